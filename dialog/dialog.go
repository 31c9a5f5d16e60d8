// Package dialog implements the conversational node-graph interpreter.
//
// The interpreter is a pure function of (graph, trigger): it never mutates
// the graph, holds no per-chat state, and reports routing misses as
// ordinary responses rather than errors. The only side channel is the
// optional AI completer consulted when free text matches no node.
package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/botforgehq/botforge/model"
)

// Trigger is an inbound event requiring a response.
type Trigger interface {
	isTrigger()
}

// Start is the /start command.
type Start struct{}

// Selection is a menu choice picked by the user. Label carries the
// routing key produced by an earlier Response menu.
type Selection struct {
	Label string
}

// FreeText is an ordinary typed message.
type FreeText struct {
	Text string
}

func (Start) isTrigger()     {}
func (Selection) isTrigger() {}
func (FreeText) isTrigger()  {}

// Choice is one menu entry: the user-facing label and the lower-cased
// routing key a later Selection trigger will carry back.
type Choice struct {
	Label string
	Key   string
}

// Response is one outbound reply: text plus an optional choice menu.
type Response struct {
	Text string
	Menu []Choice
}

// Completer produces an AI reply for free text that matched no node.
// Implementations never return an error; failures come back as
// user-displayable text.
type Completer interface {
	Complete(ctx context.Context, cfg *model.AIConfig, prompt string) string
}

// User-facing routing-miss and guidance messages. These are delivered as
// ordinary chat replies, never as protocol failures.
const (
	msgActionNotFound = "Action not found."
	msgNodeNotFound   = "Node not found. Try another ID or use the menu buttons."
)

// defaultStartNode is synthesized when a graph has no "start" node.
var defaultStartNode = model.Node{
	ID:      "start",
	Text:    "Hi! I am your bot.\nPick an action:",
	Options: []string{"Menu", "Help"},
}

// Interpreter routes triggers through a node graph.
type Interpreter struct {
	// AI handles free text that matches no node, when the bot has an AI
	// config installed. Nil means no AI fallback.
	AI Completer
}

// Interpret computes the ordered outbound responses for one trigger.
// The graph is the freshly loaded node set for the bot; cfg is the bot's
// AI configuration or nil.
func (ip Interpreter) Interpret(ctx context.Context, g model.Graph, cfg *model.AIConfig, trig Trigger) []Response {
	switch t := trig.(type) {
	case Start:
		node, ok := g.Find("start")
		if !ok {
			node = defaultStartNode
		}
		return []Response{render(node)}

	case Selection:
		node, ok := g.FindByOption(t.Label)
		if !ok {
			return []Response{{Text: msgActionNotFound}}
		}
		// Follow Next when it resolves; otherwise the matched node
		// answers for itself.
		target := node
		if next, ok := g.ResolveNext(node); ok {
			target = next
		}
		return []Response{render(target)}

	case FreeText:
		node, ok := g.Find(t.Text)
		if !ok {
			if cfg != nil && ip.AI != nil {
				return []Response{{Text: "AI: " + ip.AI.Complete(ctx, cfg, t.Text)}}
			}
			return []Response{{Text: msgNodeNotFound}}
		}
		out := []Response{render(node)}
		// Free-text matches chain-emit the follow-up node immediately.
		// Selection deliberately does not; see the product notes on the
		// asymmetry before unifying the two paths.
		if next, ok := g.ResolveNext(node); ok {
			out = append(out, render(next))
		}
		return out
	}

	return []Response{{Text: msgActionNotFound}}
}

// render builds the response for a node: its id as a heading line, its
// text, and a menu built from its options.
func render(n model.Node) Response {
	resp := Response{Text: fmt.Sprintf("%s\n\n%s", n.ID, n.Text)}
	for _, opt := range n.Options {
		resp.Menu = append(resp.Menu, Choice{Label: opt, Key: strings.ToLower(opt)})
	}
	return resp
}
