package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const apiPrefix = "/api/v1"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "submission",
			Action:       "create",
			Method:       "POST",
			PathTemplate: apiPrefix + "/submissions",
			RequiresAuth: true,
			Help:         "submission create activity_id=3 code_file=./main.c",
			Fields: []Field{
				{Name: "activity_id", Aliases: []string{"activity"}, Prompt: "activity_id", Type: FieldInt64, Required: true},
				{Name: "code", Prompt: "code", Type: FieldString, Required: true},
				{Name: "code_file", Aliases: []string{"file"}, Prompt: "code_file", Type: FieldFile},
			},
		},
		{
			Service:      "submission",
			Action:       "list",
			Method:       "GET",
			PathTemplate: apiPrefix + "/submissions",
			RequiresAuth: true,
			Help:         "submission list",
		},
		{
			Service:      "submission",
			Action:       "status",
			Method:       "GET",
			PathTemplate: apiPrefix + "/submissions/:id",
			RequiresAuth: true,
			Help:         "submission status id=42",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldInt64, In: InPath, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "corrections",
			Method:       "GET",
			PathTemplate: apiPrefix + "/submissions/:id/corrections",
			RequiresAuth: true,
			Help:         "submission corrections id=42",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldInt64, In: InPath, Required: true},
			},
		},
		{
			Service:      "activity",
			Action:       "submissions",
			Method:       "GET",
			PathTemplate: apiPrefix + "/activities/:id/submissions",
			RequiresAuth: true,
			Help:         "activity submissions id=3 page=2",
			Fields: []Field{
				{Name: "id", Aliases: []string{"activity_id"}, Prompt: "activity_id", Type: FieldInt64, In: InPath, Required: true},
				{Name: "page", Prompt: "page", Type: FieldInt, In: InQuery},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys lists registry keys alphabetically.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	query := url.Values{}
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		switch field.In {
		case InPath:
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", field.Name)
			}
			if err := checkNumeric(field, value); err != nil {
				return "", err
			}
			path = strings.ReplaceAll(path, ":"+field.Name, url.PathEscape(value))
		case InQuery:
			if value == "" {
				continue
			}
			if err := checkNumeric(field, value); err != nil {
				return "", err
			}
			query.Set(field.Name, value)
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

func checkNumeric(field Field, value string) error {
	switch field.Type {
	case FieldInt:
		if _, err := ParseInt(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.Name, err)
		}
	case FieldInt64:
		if _, err := ParseInt64(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.Name, err)
		}
	}
	return nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Key() == "submission create" {
		return buildSubmissionCreatePayload(params)
	}
	return nil, nil
}

func buildSubmissionCreatePayload(params Params) (interface{}, error) {
	activityID, err := ParseInt64(params.Get("activity_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid activity_id: %w", err)
	}

	code := params.Get("code")
	if (code == "" || code == FilePlaceholder) && params.Get("code_file") != "" {
		code, err = ReadFile(params.Get("code_file"))
		if err != nil {
			return nil, err
		}
	}
	if code == "" || code == FilePlaceholder {
		return nil, fmt.Errorf("code is required")
	}

	return map[string]interface{}{
		"activity_id": activityID,
		"code":        code,
	}, nil
}

// FilePlaceholder marks a field whose value will be read from its companion file field.
const FilePlaceholder = "_file_"
