package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// exportMessage mirrors one entry of a Messenger export's "messages" array.
type exportMessage struct {
	SenderName  string `json:"sender_name"`
	TimestampMS int64  `json:"timestamp_ms"`
	Content     string `json:"content"`
}

type exportFile struct {
	Messages []exportMessage `json:"messages"`
}

// Extractor turns a raw Messenger export into the two corpus files: paired
// records for embedding and contextual turns for fine-tuning.
type Extractor struct {
	// PersonaName must match sender_name in the export exactly.
	PersonaName string
	// ContextTurns is how many preceding messages each fine-tune sample keeps.
	ContextTurns int
}

func NewExtractor(personaName string) *Extractor {
	return &Extractor{PersonaName: personaName, ContextTurns: 3}
}

// Extract reads every message_*.json under inputDir and writes vector records
// and fine-tune samples as JSONL. Files that fail to parse are skipped with a
// warning. Returns the number of records and samples written.
func (e *Extractor) Extract(inputDir, vectorPath, fineTunePath string) (int, int, error) {
	var records []Record
	var samples []FineTuneExample

	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isExportFile(d.Name()) {
			return nil
		}

		messages, err := readExportFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable export file", slog.String("path", path), "error", err)
			return nil
		}
		slog.Info("Processing export file", slog.String("path", path), slog.Int("messages", len(messages)))

		records = append(records, e.pairRecords(messages)...)
		samples = append(samples, e.fineTuneSamples(messages)...)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to walk export directory: %w", err)
	}

	if err := writeJSONL(vectorPath, len(records), func(enc *json.Encoder, i int) error {
		return enc.Encode(records[i])
	}); err != nil {
		return 0, 0, fmt.Errorf("failed to write vector records: %w", err)
	}

	if err := writeJSONL(fineTunePath, len(samples), func(enc *json.Encoder, i int) error {
		return enc.Encode(samples[i])
	}); err != nil {
		return 0, 0, fmt.Errorf("failed to write fine-tune samples: %w", err)
	}

	return len(records), len(samples), nil
}

// pairRecords finds every message from someone else that the persona answered
// with the next message.
func (e *Extractor) pairRecords(messages []exportMessage) []Record {
	var records []Record
	for i := 0; i+1 < len(messages); i++ {
		msg, next := messages[i], messages[i+1]
		if msg.SenderName == e.PersonaName || next.SenderName != e.PersonaName {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" || strings.TrimSpace(next.Content) == "" {
			continue
		}
		records = append(records, Record{
			OtherPerson: msg.Content,
			YourReply:   next.Content,
			Timestamp:   next.TimestampMS,
		})
	}
	return records
}

// fineTuneSamples emits one sample per persona message, carrying up to
// ContextTurns preceding messages as conversation context.
func (e *Extractor) fineTuneSamples(messages []exportMessage) []FineTuneExample {
	system := fmt.Sprintf("You are %s, a chatbot who seeks to message your friends, talk hobbies, and troll them.", e.PersonaName)

	var samples []FineTuneExample
	for i, msg := range messages {
		if msg.SenderName != e.PersonaName || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		turns := []Turn{{Role: "system", Content: system}}

		start := i - e.ContextTurns
		if start < 0 {
			start = 0
		}
		for _, ctx := range messages[start:i] {
			if strings.TrimSpace(ctx.Content) == "" {
				continue
			}
			role := "user"
			if ctx.SenderName == e.PersonaName {
				role = "assistant"
			}
			turns = append(turns, Turn{Role: role, Content: ctx.Content})
		}

		turns = append(turns, Turn{Role: "assistant", Content: msg.Content})
		samples = append(samples, FineTuneExample{Messages: turns})
	}
	return samples
}

// ReadRecords streams a vector.jsonl file back into memory for the pipeline.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("invalid record on line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	return records, nil
}

func isExportFile(name string) bool {
	return strings.HasPrefix(name, "message_") && strings.HasSuffix(name, ".json")
}

func readExportFile(path string) ([]exportMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var export exportFile
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, err
	}
	return export.Messages, nil
}

func writeJSONL(path string, n int, encode func(*json.Encoder, int) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		if err := encode(enc, i); err != nil {
			return err
		}
	}
	return w.Flush()
}
