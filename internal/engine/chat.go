package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tillfalko/interpolation-engine/internal/filter"
	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/llm"
)

// chatRetryDelay is the pause before re-asking when the model produced
// fewer outputs than requested.
const chatRetryDelay = 2 * time.Second

// chatOptions is the fully merged, popped-down parameter set of one chat
// task: the program's completion_args overlaid with the task's fields.
type chatOptions struct {
	startStr, stopStr         string
	hideStartStr, hideStopStr string
	nOutputs                  int
	shown                     bool
	choices                   []string
	apiURL, apiKey            string
	outputName                string
	messages                  []llm.Message
	request                   llm.Request
}

func (e *Engine) runChat(ctx context.Context, resv *interp.Resolver, task map[string]any, label string) error {
	opts, err := e.chatOptionsFor(resv, task)
	if err != nil {
		return taskErr(label, err)
	}

	client := e.completions(opts.apiURL, opts.apiKey)
	attempts := 0
	for {
		outputs, visual, err := e.chatOnce(ctx, client, opts)
		if err != nil {
			return taskErr(label, err)
		}
		if opts.nOutputs >= 0 && len(outputs) < opts.nOutputs {
			attempts++
			if attempts >= e.Cfg.ChatRetryLimit {
				return taskErr(label, fmt.Errorf(
					"chat produced %d of %d outputs after %d attempts", len(outputs), opts.nOutputs, attempts))
			}
			notice := fmt.Sprintf("\n(Expected %d outputs, got %d. Retrying.)\n", opts.nOutputs, len(outputs))
			e.IO.Write(notice)
			timer := time.NewTimer(chatRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if len(outputs) == 1 {
			e.state.Inserts.Set(opts.outputName, outputs[0])
		} else {
			bound := make([]any, len(outputs))
			for i, o := range outputs {
				bound[i] = o
			}
			e.state.Inserts.Set(opts.outputName, bound)
		}
		e.state.AppendOutput(visual)
		return nil
	}
}

// chatOptionsFor merges completion_args defaults under the task's own
// fields and splits engine-level options from wire options.
func (e *Engine) chatOptionsFor(resv *interp.Resolver, task map[string]any) (*chatOptions, error) {
	merged := map[string]any{}
	for k, v := range e.completionArgs {
		merged[k] = interp.DeepCopy(v)
	}
	// extra_body merges key-wise; program-level entries win.
	extraBody := map[string]any{}
	if eb, ok := task["extra_body"].(map[string]any); ok {
		for k, v := range eb {
			extraBody[k] = v
		}
	}
	if eb, ok := merged["extra_body"].(map[string]any); ok {
		for k, v := range eb {
			extraBody[k] = v
		}
	}
	delete(merged, "extra_body")
	for k, v := range task {
		switch k {
		case "cmd", "messages", "output_name", "extra_body", "line", "traceback_label":
			continue
		}
		merged[k] = v
	}

	pop := func(key string) (any, bool) {
		v, ok := merged[key]
		if ok {
			delete(merged, key)
		}
		return v, ok
	}
	popString := func(key, def string) string {
		if v, ok := pop(key); ok {
			return interp.ToString(v)
		}
		return def
	}

	opts := &chatOptions{
		startStr:     popString("start_str", ""),
		stopStr:      popString("stop_str", ""),
		hideStartStr: popString("hide_start_str", ""),
		hideStopStr:  popString("hide_stop_str", ""),
		apiURL:       popString("api_url", e.Cfg.APIURL),
		apiKey:       popString("api_key", e.Cfg.APIKey),
		nOutputs:     1,
		shown:        true,
	}

	var err error
	if opts.outputName, err = fieldString(task, "output_name"); err != nil {
		return nil, err
	}
	if (opts.startStr == "") != (opts.stopStr == "") {
		return nil, fmt.Errorf("you can either set both start_str and stop_str or none; right now you have only set one of them")
	}

	if v, ok := pop("n_outputs"); ok {
		switch n := v.(type) {
		case int:
			opts.nOutputs = n
		case string:
			parsed, perr := strconv.Atoi(n)
			if perr != nil {
				return nil, fmt.Errorf("n_outputs %q is not numeric", n)
			}
			opts.nOutputs = parsed
		default:
			return nil, fmt.Errorf("n_outputs is %T", v)
		}
	}
	if v, ok := pop("shown"); ok {
		switch s := v.(type) {
		case bool:
			opts.shown = s
		case string:
			if s != "true" && s != "false" {
				return nil, fmt.Errorf("shown must be a boolean, got %q", s)
			}
			opts.shown = s == "true"
		default:
			return nil, fmt.Errorf("shown is %T", v)
		}
	}

	if v, ok := pop("choices_list"); ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("choices_list is %T, want list", v)
		}
		for _, c := range list {
			opts.choices = append(opts.choices, interp.ToString(c))
		}
	}
	if v, ok := pop("choices_list_name"); ok && v != nil {
		resolved, lerr := resv.Lookup(interp.ToString(v))
		if lerr != nil {
			return nil, lerr
		}
		list, ok := resolved.([]any)
		if !ok {
			return nil, fmt.Errorf("choices_list_name resolved to %T, want list", resolved)
		}
		opts.choices = nil
		for _, c := range list {
			opts.choices = append(opts.choices, interp.ToString(c))
		}
	}
	if len(opts.choices) > 0 {
		if opts.startStr != "" || opts.stopStr != "" {
			return nil, fmt.Errorf("filtering is not supported when using choices")
		}
		if opts.nOutputs != 1 {
			return nil, fmt.Errorf("multiple outputs are not supported when using choices")
		}
	}

	// max_completion_tokens is the forward-looking name; compat servers
	// only understand max_tokens.
	if v, ok := pop("max_completion_tokens"); ok {
		merged["max_tokens"] = v
	}

	req := llm.Request{ExtraBody: extraBody}
	if v, ok := pop("model"); ok {
		req.Model = interp.ToString(v)
	}
	if v, ok := pop("temperature"); ok {
		switch t := v.(type) {
		case float64:
			req.Temperature = &t
		case int:
			f := float64(t)
			req.Temperature = &f
		default:
			return nil, fmt.Errorf("temperature is %T", v)
		}
	}
	if v, ok := pop("seed"); ok {
		n, isInt := interp.AsInt(v)
		if !isInt {
			return nil, fmt.Errorf("seed is %T", v)
		}
		seed := int64(n)
		req.Seed = &seed
	}
	if v, ok := pop("max_tokens"); ok {
		n, isInt := interp.AsInt(v)
		if !isInt {
			return nil, fmt.Errorf("max_tokens is %T", v)
		}
		mt := int64(n)
		req.MaxTokens = &mt
	}
	if v, ok := pop("stop"); ok {
		req.Stop = v
	}
	// Anything left over rides along in the request body.
	for k, v := range merged {
		req.ExtraBody[k] = v
	}

	messages, err := buildChatMessages(task["messages"])
	if err != nil {
		return nil, err
	}
	opts.messages = messages
	req.Messages = messages
	opts.request = req
	return opts, nil
}

func buildChatMessages(raw any) ([]llm.Message, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("'messages' is %T, want list", raw)
	}
	out := make([]llm.Message, 0, len(list))
	for i, m := range list {
		msg, ok := m.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message number %d is %T, want object", i+1, m)
		}
		role, _ := msg["role"].(string)
		switch role {
		case "user", "system", "assistant":
		default:
			return nil, fmt.Errorf("message number %d has unknown role '%s'", i+1, role)
		}
		out = append(out, llm.Message{Role: llm.Role(role), Content: interp.ToString(msg["content"])})
	}
	return out, nil
}

// chatOnce runs one streaming completion: it filters the token stream,
// writes the visible part, and returns the extracted outputs plus the
// visible transcript.
func (e *Engine) chatOnce(ctx context.Context, client llm.Provider, opts *chatOptions) (outputs []string, visual string, err error) {
	e.Log.Printf("starting generation against %s (model %q)", opts.apiURL, opts.request.Model)

	req := opts.request
	raw := ""
	overflow := false

	if len(opts.choices) > 0 {
		schema, merr := json.Marshal(llm.ChoiceSchema(opts.choices))
		if merr != nil {
			return nil, "", merr
		}
		directive := fmt.Sprintf(
			"Respond only with a valid JSON object conforming to this schema: %s. Do not add any additional text.",
			schema)
		req.Messages = append(append([]llm.Message{}, req.Messages...), llm.UserText(directive))
		req.ChoiceEnum = opts.choices
	}

	stream, err := client.Stream(ctx, req)
	if err != nil {
		e.logTranscript(opts.messages, raw)
		return nil, "", err
	}
	defer stream.Close()

	extract := filter.NewExtract(opts.startStr, opts.stopStr, opts.nOutputs > 1)
	hide := filter.NewHide(opts.hideStartStr, opts.hideStopStr)
	useFilters := len(opts.choices) == 0

	for {
		ev, rerr := stream.Recv()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			stream.Close()
			e.logTranscript(opts.messages, raw)
			if llm.IsContextOverflow(rerr) {
				e.overflowNotice(ctx)
			}
			return nil, visual, rerr
		}
		switch ev.Type {
		case llm.EventTextDelta:
			raw += ev.Text
			if useFilters {
				fragment := extract.Feed(ev.Text)
				if opts.shown {
					vf := hide.Feed(fragment)
					e.IO.Write(vf)
					visual += vf
				}
			} else if opts.shown {
				e.IO.Write(ev.Text)
				visual += ev.Text
			}
		case llm.EventFinish:
			if ev.FinishReason == llm.FinishLength {
				overflow = true
			}
		case llm.EventDone:
		}
	}

	if overflow {
		e.overflowNotice(ctx)
	}
	if opts.shown {
		e.IO.Write("\n")
		visual += "\n"
	}
	e.logTranscript(opts.messages, raw)

	if useFilters {
		outputs = extract.Outputs()
	} else {
		var parsed struct {
			Choice string `json:"choice"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, visual, fmt.Errorf("structured choice output %q did not parse: %w", raw, err)
		}
		valid := false
		for _, c := range opts.choices {
			if parsed.Choice == c {
				valid = true
				break
			}
		}
		if !valid {
			return nil, visual, fmt.Errorf("choice %q is not one of the permitted options", parsed.Choice)
		}
		outputs = []string{parsed.Choice}
	}

	for i, o := range outputs {
		outputs[i] = strings.TrimSpace(o)
	}
	return outputs, visual, nil
}

// overflowNotice tells the user the context ran out so they can save and
// retry with a larger context before loading.
func (e *Engine) overflowNotice(ctx context.Context) {
	e.Log.Section("WARNING", "Ran out of context length, generation stopped short.")
	e.IO.SelectIndex(ctx, []string{"Dismiss"},
		"Generation exceeded context length! Instead of crashing, this message is being shown so that "+
			"you can save and try to increase your context length before loading. "+
			"Loading this save will restart the generation.")
}

func (e *Engine) logTranscript(messages []llm.Message, assistantRaw string) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s\n%s\n\n", strings.ToUpper(string(m.Role)), m.Content)
	}
	fmt.Fprintf(&b, "ASSISTANT\n%s", assistantRaw)
	e.Log.Section("MESSAGES", b.String())
}
