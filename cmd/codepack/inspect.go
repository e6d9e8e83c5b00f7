package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/codepack/internal/shard"
	"github.com/samcharles93/codepack/internal/tokenizer"
)

func inspectCmd() *cli.Command {
	var (
		shardPath string
		index     int64
		head      int64
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarise a shard or print one of its examples",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "shard",
				Aliases:     []string{"s"},
				Usage:       "path to a shard written by pack",
				Required:    true,
				Destination: &shardPath,
			},
			&cli.Int64Flag{
				Name:        "example",
				Aliases:     []string{"e"},
				Usage:       "index of an example to print (-1 for none)",
				Value:       -1,
				Destination: &index,
			},
			&cli.Int64Flag{
				Name:        "head",
				Usage:       "print only the first N token ids of the example (0 prints all)",
				Value:       64,
				Destination: &head,
			},
			&cli.StringFlag{
				Name:        "tokenizer",
				Aliases:     []string{"t"},
				Usage:       "tokenizer directory; when set the example is decoded to text",
				Sources:     env("TOKENIZER"),
				Destination: &tokenizerDir,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			r, err := shard.Open(shardPath)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			var tok tokenizer.Tokenizer
			if index >= 0 && tokenizerDir != "" {
				if tok, err = loadTokenizer(); err != nil {
					return err
				}
			}
			return printShard(os.Stdout, shardPath, r, int(index), int(head), tok)
		},
	}
}

func printShard(out io.Writer, path string, r *shard.Reader, index, head int, tok tokenizer.Tokenizer) error {
	tokens := int64(r.Len()) * int64(r.SeqLength())
	size := uint64(shard.HeaderSize) + uint64(tokens)*uint64(shard.TokenWidth)

	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding(" ")
	table.AppendBulk([][]string{
		{"Shard:", path},
		{"Version:", strconv.Itoa(int(r.Header().Version))},
		{"Seq length:", strconv.Itoa(r.SeqLength())},
		{"Examples:", humanize.Comma(int64(r.Len()))},
		{"Tokens:", humanize.Comma(tokens)},
		{"Size:", humanize.Bytes(size)},
		{"Mapped:", strconv.FormatBool(r.Mapped())},
	})
	table.Render()
	if index < 0 {
		return nil
	}

	ids, err := r.Example(index)
	if err != nil {
		return err
	}
	shown := ids
	if head > 0 && head < len(ids) {
		shown = ids[:head]
	}
	_, _ = fmt.Fprintf(out, "\nexample %d (%d of %d tokens):\n%v\n", index, len(shown), len(ids), shown)
	if tok == nil {
		return nil
	}
	text, err := tok.Decode(ids)
	if err != nil {
		return fmt.Errorf("decode example %d: %w", index, err)
	}
	_, _ = fmt.Fprintf(out, "\n%s\n", text)
	return nil
}
