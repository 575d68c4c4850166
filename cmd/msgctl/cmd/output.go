package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nfrund/bizdash/internal/domain"
)

func printMessages(w io.Writer, format, actorID string, msgs []*domain.Message) error {
	if format == "json" {
		output := struct {
			Messages []*domain.Message `json:"messages"`
			Count    int               `json:"count"`
		}{
			Messages: msgs,
			Count:    len(msgs),
		}
		if output.Messages == nil {
			output.Messages = []*domain.Message{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTIME\tFROM\tTO\tTYPE\tREAD\tCONTENT")
	if len(msgs) == 0 {
		fmt.Fprintln(tw, "No messages found")
		return nil
	}
	for _, m := range msgs {
		printRow(tw, actorID, m)
	}
	return nil
}

func printRow(w io.Writer, actorID string, m *domain.Message) {
	read := "-"
	if m.IsReadBy(actorID) {
		read = "yes"
	}
	from := m.SenderName
	if from == "" {
		from = m.SenderID
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		m.ID,
		m.Timestamp.Local().Format(time.DateTime),
		from,
		m.RecipientID,
		m.Type,
		read,
		truncateString(m.Content, 50))
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
