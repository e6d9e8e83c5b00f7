package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config is the scalar surface of a Pipeline.
type Config struct {
	// SeqLength is the exact token length of every emitted example.
	SeqLength int `json:"seq_length" yaml:"seq_length"`
	// NumOfSequences and CharsPerToken size the raw buffer: it is filled
	// until it holds SeqLength*CharsPerToken*NumOfSequences characters.
	NumOfSequences int     `json:"num_of_sequences" yaml:"num_of_sequences"`
	CharsPerToken  float64 `json:"chars_per_token" yaml:"chars_per_token"`
	ContentField   string  `json:"content_field" yaml:"content_field"`

	FIMRate    float64 `json:"fim_rate" yaml:"fim_rate"`
	FIMSPMRate float64 `json:"fim_spm_rate" yaml:"fim_spm_rate"`
	// TruncateOrPad keeps permuted sequences at their original length.
	TruncateOrPad bool `json:"truncate_or_pad" yaml:"truncate_or_pad"`

	Seed uint64 `json:"seed" yaml:"seed"`
	// Infinite restarts the source when it is exhausted instead of ending
	// the stream.
	Infinite bool `json:"infinite" yaml:"infinite"`
}

// DefaultConfig returns the settings used for StarCoder-style training.
func DefaultConfig() Config {
	return Config{
		SeqLength:      1024,
		NumOfSequences: 1024,
		CharsPerToken:  3.6,
		ContentField:   "content",
		FIMRate:        0.5,
		FIMSPMRate:     0.5,
	}
}

// BufferChars is the character budget of one raw buffer.
func (c Config) BufferChars() float64 {
	return float64(c.SeqLength) * c.CharsPerToken * float64(c.NumOfSequences)
}

// Validate reports the first out-of-range field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.SeqLength <= 0:
		return fmt.Errorf("%w: seq_length must be positive, got %d", ErrInvalidConfig, c.SeqLength)
	case c.NumOfSequences <= 0:
		return fmt.Errorf("%w: num_of_sequences must be positive, got %d", ErrInvalidConfig, c.NumOfSequences)
	case !(c.CharsPerToken > 0):
		return fmt.Errorf("%w: chars_per_token must be positive, got %g", ErrInvalidConfig, c.CharsPerToken)
	case c.ContentField == "":
		return fmt.Errorf("%w: content_field is empty", ErrInvalidConfig)
	case !inUnit(c.FIMRate):
		return fmt.Errorf("%w: fim_rate must be in [0,1], got %g", ErrInvalidConfig, c.FIMRate)
	case !inUnit(c.FIMSPMRate):
		return fmt.Errorf("%w: fim_spm_rate must be in [0,1], got %g", ErrInvalidConfig, c.FIMSPMRate)
	}
	return nil
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
