package registry

import (
	"context"
	"log"

	"github.com/botforgehq/botforge/dialog"
	"github.com/botforgehq/botforge/messenger"
	"github.com/botforgehq/botforge/metrics"
	"github.com/botforgehq/botforge/model"
)

// handler builds the per-session dispatch function. Every inbound event
// re-reads the graph and AI config so edits saved in the builder take
// effect on the next message without a restart.
func (r *Registry) handler(token string, client messenger.Client) messenger.Handler {
	return func(ctx context.Context, u messenger.Update) {
		graph, err := r.graphs.LoadGraph(token)
		if err != nil {
			log.Printf("registry: loading graph: %v", err)
			return
		}
		cfg, err := r.graphs.LoadAIConfig(token)
		if err != nil {
			log.Printf("registry: loading AI config: %v", err)
			cfg = nil
		}

		metrics.UpdatesHandled.WithLabelValues(string(u.Kind)).Inc()

		ip := dialog.Interpreter{AI: meteredCompleter{r.ai}}
		resps := ip.Interpret(ctx, graph, cfg, triggerFor(u))

		for i, resp := range resps {
			menu := buttons(resp.Menu)
			if err := client.Send(ctx, u.ChatID, resp.Text, menu); err != nil {
				log.Printf("registry: send failed: %v", err)
				return
			}
			// A menu picked from an old message gets that message's
			// keyboard refreshed to the new choices.
			if u.Kind == messenger.KindCallback && i == len(resps)-1 && len(menu) > 0 {
				if err := client.EditMenu(ctx, u.ChatID, u.MessageID, menu); err != nil {
					log.Printf("registry: menu edit failed: %v", err)
				}
			}
		}
	}
}

func triggerFor(u messenger.Update) dialog.Trigger {
	switch u.Kind {
	case messenger.KindCommand:
		if u.Command == "start" {
			return dialog.Start{}
		}
		// Unknown commands route like typed text, which lets authors
		// name nodes after commands if they want to.
		return dialog.FreeText{Text: "/" + u.Command}
	case messenger.KindCallback:
		return dialog.Selection{Label: u.Data}
	default:
		return dialog.FreeText{Text: u.Text}
	}
}

func buttons(menu []dialog.Choice) []messenger.Button {
	out := make([]messenger.Button, 0, len(menu))
	for _, c := range menu {
		out = append(out, messenger.Button{Label: c.Label, Data: c.Key})
	}
	return out
}

// meteredCompleter counts AI delegations before forwarding to the real
// completer.
type meteredCompleter struct {
	inner dialog.Completer
}

func (m meteredCompleter) Complete(ctx context.Context, cfg *model.AIConfig, prompt string) string {
	if m.inner == nil {
		return "AI is not available."
	}
	metrics.AIRequests.WithLabelValues(string(cfg.Provider)).Inc()
	return m.inner.Complete(ctx, cfg, prompt)
}
