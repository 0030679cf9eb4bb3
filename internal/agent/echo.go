package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
)

// EchoName is the model name of the built-in local agent.
const EchoName = "echo"

// echoStepChunk is the fragment size used when streaming step arguments.
const echoStepChunk = 24

// Echo is the zero-dependency local agent: it streams the latest user text
// back as an assistant message in word-sized deltas. Useful for development
// and as the reference for how providers drive the Emitter.
type Echo struct{}

// NewEcho creates the echo agent.
func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Name() string { return EchoName }

func (e *Echo) Execute(ctx context.Context, inv *Invocation) error {
	prompt := latestUserText(inv.History)
	reply := prompt
	if reply == "" {
		reply = "(empty thread)"
	}

	stepID := ident.New(ident.PrefixMessage)
	args, _ := json.Marshal(map[string]string{"text": prompt})
	// Arguments stream as deltas first, then the completed step follows,
	// the same shape message deltas take.
	for i := 0; i < len(args); i += echoStepChunk {
		end := min(i+echoStepChunk, len(args))
		if err := inv.Emitter.EmitRunStepDelta(ctx, model.RunStepDeltaData{
			StepID:   stepID,
			Index:    i / echoStepChunk,
			Fragment: string(args[i:end]),
		}); err != nil {
			return err
		}
	}
	if err := inv.Emitter.EmitRunStep(ctx, model.RunStepData{
		StepID:    stepID,
		StepType:  "tool_call",
		Name:      EchoName,
		Arguments: args,
	}); err != nil {
		return err
	}

	messageID := inv.Emitter.NewMessageID()
	var buf strings.Builder
	for i, word := range strings.Fields(reply) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fragment := word
		if i > 0 {
			fragment = " " + word
		}
		buf.WriteString(fragment)
		if err := inv.Emitter.EmitMessageDelta(ctx, messageID, 0, model.Block{
			Type: model.BlockText,
			Text: fragment,
		}); err != nil {
			return err
		}
	}
	if buf.Len() == 0 {
		buf.WriteString(reply)
		if err := inv.Emitter.EmitMessageDelta(ctx, messageID, 0, model.Block{
			Type: model.BlockText,
			Text: reply,
		}); err != nil {
			return err
		}
	}

	output, _ := json.Marshal(map[string]int{"characters": buf.Len()})
	if err := inv.Emitter.EmitRunStep(ctx, model.RunStepData{
		StepID:   stepID,
		StepType: "tool_result",
		Name:     EchoName,
		Output:   output,
	}); err != nil {
		return err
	}

	_, err := inv.Emitter.FinishMessage(ctx, messageID, model.TextContent(buf.String()))
	return err
}

func latestUserText(history []*model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			if text := history[i].Content.FirstText(); text != "" {
				return text
			}
		}
	}
	return ""
}
