package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Exporter writes a stored history in one format.
type Exporter interface {
	Export(history []core.Message, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "jsonl":
		return &JSONLExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "toml":
		return &TOMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, jsonl, yaml, toml)", format)
	}
}

// Record is the export shape of one message.
type Record struct {
	ID     string    `json:"id" yaml:"id" toml:"id"`
	Sender string    `json:"sender" yaml:"sender" toml:"sender"`
	Author string    `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	Text   string    `json:"text" yaml:"text" toml:"text"`
	Time   time.Time `json:"time" yaml:"time" toml:"time"`
}

func toRecords(history []core.Message) []Record {
	out := make([]Record, 0, len(history))
	for _, msg := range history {
		out = append(out, Record{
			ID:     msg.ID,
			Sender: string(msg.Sender),
			Author: msg.Author,
			Text:   msg.Text,
			Time:   msg.Timestamp.UTC(),
		})
	}
	return out
}

// JSONExporter writes the history as one indented JSON array.
type JSONExporter struct{}

func (e *JSONExporter) Export(history []core.Message, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toRecords(history)); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return nil
}

func (e *JSONExporter) Extension() string {
	return "json"
}

// JSONLExporter writes one message per line.
type JSONLExporter struct{}

func (e *JSONLExporter) Export(history []core.Message, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, rec := range toRecords(history) {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string {
	return "jsonl"
}

// YAMLExporter writes the history as a YAML document.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(history []core.Message, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"messages": toRecords(history)}); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}

// TOMLExporter writes the history as an array of [[messages]] tables.
type TOMLExporter struct{}

func (e *TOMLExporter) Export(history []core.Message, w io.Writer) error {
	doc := struct {
		Messages []Record `toml:"messages"`
	}{Messages: toRecords(history)}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode toml: %w", err)
	}
	return nil
}

func (e *TOMLExporter) Extension() string {
	return "toml"
}
