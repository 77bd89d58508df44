package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// errorAlert renders a dismissible error box for HTMX swaps.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p>%s</p>`,
			templ.EscapeString(msg.Message))
		if err != nil {
			return err
		}
		if msg.Action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<small>Code: %s</small></div>`, templ.EscapeString(msg.Code))
		return err
	})
}

// statusBadge renders the workflow status line shown above the grid.
func statusBadge(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div id="import-status" class="status status-%s" data-version="%d">`,
			templ.EscapeString(string(snap.State)), snap.Version)
		if err != nil {
			return err
		}

		if snap.FileName != "" {
			if _, err := fmt.Fprintf(w, `<span class="status-file">%s</span>`, templ.EscapeString(snap.FileName)); err != nil {
				return err
			}
		}
		if snap.Message != "" {
			if _, err := fmt.Fprintf(w, `<span class="status-message">%s</span>`, templ.EscapeString(snap.Message)); err != nil {
				return err
			}
		}
		if snap.State == core.StateComplete {
			if _, err := fmt.Fprintf(w, `<span class="status-rows">%d rows, %d selected</span>`, len(snap.Rows), len(snap.Selection)); err != nil {
				return err
			}
		}
		if snap.Error != "" {
			msg := core.MapError(snap.Err)
			if _, err := fmt.Fprintf(w, `<span class="status-error">%s (Code: %s)</span>`,
				templ.EscapeString(msg.Message), templ.EscapeString(msg.Code)); err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = errorAlert(msg).Render(r.Context(), w)
}
