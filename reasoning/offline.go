package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/taskloop/provider"
)

const offlineSummaryPrefix = "Summarize findings for: "

// OfflineResponder answers the three reasoning prompts with canned JSON so
// the whole loop can run without a model. It seeds two tasks, appends one
// summary task and stops once that task is executed. Use it with
// mock.NewFunc.
func OfflineResponder(_ context.Context, messages []provider.Message) (string, error) {
	if len(messages) < 2 {
		return "", errors.New("offline: expected system and user messages")
	}
	var input struct {
		Objective string        `json:"objective"`
		TasksList []taskPayload `json:"tasks_list"`
		Task      taskPayload   `json:"task"`
	}
	if err := json.Unmarshal([]byte(messages[len(messages)-1].Content), &input); err != nil {
		return "", fmt.Errorf("offline: decode input: %w", err)
	}

	var out any
	switch messages[0].Content {
	case decomposeSystemPrompt:
		out = decomposeResponse{Tasks: []taskPayload{
			{Name: "Research: " + input.Objective},
			{Name: "Draft a plan for: " + input.Objective},
		}}
	case planNextSystemPrompt:
		summary := offlineSummaryPrefix + input.Objective
		add := true
		for _, t := range input.TasksList {
			if t.Name == summary {
				add = false
			}
		}
		out = planResponse{Add: flexBool(add), NewTask: taskPayload{Name: summary}}
	case executeSystemPrompt:
		stop := strings.HasPrefix(input.Task.Name, offlineSummaryPrefix)
		out = executeResponse{Result: "Completed: " + input.Task.Name, Stop: flexBool(stop)}
	default:
		return "", errors.New("offline: unrecognized prompt")
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
