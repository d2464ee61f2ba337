package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// output writes v as indented JSON, or as the results of the --jq expression when set.
// It returns false when neither --json nor --jq was given and the caller should print text.
func output(c *cli.Context, v interface{}) (bool, error) {
	if expr := c.String("jq"); expr != "" {
		return true, outputJQ(c.App.Writer, expr, v)
	}
	if c.Bool("json") {
		return true, outputJSON(c.App.Writer, v)
	}
	return false, nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs expr over the JSON form of v and writes every result on its own line.
func outputJQ(w io.Writer, expr string, v interface{}) error {
	code, err := compileJQ(expr)
	if err != nil {
		return err
	}
	input, err := toJQInput(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if s, isString := result.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// toJQInput converts v to the generic map/slice form gojq operates on.
func toJQInput(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return out, nil
}

// matchesAll reports whether every compiled filter yields a truthy first result for v.
func matchesAll(codes []*gojq.Code, v interface{}, logger *slog.Logger) bool {
	if len(codes) == 0 {
		return true
	}
	input, err := toJQInput(v)
	if err != nil {
		logger.Debug("jq input error", "error", err)
		return false
	}
	for _, code := range codes {
		result, ok := code.Run(input).Next()
		if !ok {
			return false
		}
		if err, isErr := result.(error); isErr {
			logger.Debug("jq filter error", "error", err)
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
