package events

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// WriteSSE formats an event as a Server-Sent Event frame per spec.md §6
// ("data: <json>\nid: <id>\n\n") and writes it to w.
func WriteSSE(w io.Writer, e types.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\nid: %s\n\n", payload, e.ID)
	return err
}
