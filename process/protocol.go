package process

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

const (
	debugPrefix   = "SDBG:"
	symbolsPrefix = "symb"
	autIDPrefix   = "AUTID: "
	pickedPrefix  = "@picked:"
)

var locationLine = regexp.MustCompile(`^@line:(\d+),column:(\d+),(.+):$`)

// Command is a debugger command understood by squishrunner.
type Command string

const (
	CommandContinue Command = "continue"
	CommandStepIn   Command = "step"
	CommandStepOver Command = "next"
	CommandStepOut  Command = "return"
	CommandExit     Command = "exit"
	CommandQuit     Command = "quit"
)

// MessageKind classifies one line printed by an interactive runner.
type MessageKind int

const (
	MessageLog MessageKind = iota
	MessagePrompt
	MessageLocation
	MessageLocals
	MessageAutID
	MessagePicked
)

// Message is a parsed runner output line.
type Message struct {
	Kind     MessageKind
	Text     string
	Location types.Location
	Locals   types.LocalsUpdate
	AutID    int
	Object   string
}

// ParseLine classifies a single line of runner output.
func ParseLine(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimPrefix(line, debugPrefix)

	switch {
	case line == "":
		return Message{Kind: MessagePrompt}
	case len(line) > len(symbolsPrefix) && strings.HasPrefix(line, symbolsPrefix) &&
		(line[4] == '.' || line[4] == ':'):
		return Message{
			Kind: MessageLocals,
			Text: line,
			Locals: types.LocalsUpdate{
				Single:    line[4] == '.',
				Variables: ParseVariables(line[5:]),
			},
		}
	case strings.HasPrefix(line, autIDPrefix):
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, autIDPrefix)))
		if err != nil {
			return Message{Kind: MessageLog, Text: line}
		}
		return Message{Kind: MessageAutID, Text: line, AutID: id}
	case strings.HasPrefix(line, pickedPrefix):
		return Message{Kind: MessagePicked, Text: line, Object: strings.TrimPrefix(line, pickedPrefix)}
	}

	if m := locationLine.FindStringSubmatch(line); m != nil {
		lineNo, _ := strconv.Atoi(m[1])
		column, _ := strconv.Atoi(m[2])
		return Message{
			Kind:     MessageLocation,
			Text:     line,
			Location: types.Location{File: m[3], Line: lineNo, Column: column},
		}
	}
	return Message{Kind: MessageLog, Text: line}
}

// ParseVariables parses a comma separated symbol list of the form
// [+]name{type}=value. Commas inside quotes or braces do not split entries.
func ParseVariables(payload string) []types.Variable {
	var vars []types.Variable
	for _, entry := range splitEntries(payload) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		vars = append(vars, parseVariable(entry))
	}
	return vars
}

func parseVariable(entry string) types.Variable {
	var v types.Variable
	if strings.HasPrefix(entry, "+") {
		v.Expandable = true
		entry = entry[1:]
	}
	open := strings.IndexByte(entry, '{')
	eq := strings.IndexByte(entry, '=')
	if open == -1 || (eq != -1 && eq < open) {
		if eq == -1 {
			v.Name = entry
			return v
		}
		v.Name, v.Value = entry[:eq], entry[eq+1:]
		return v
	}
	v.Name = entry[:open]
	rest := entry[open+1:]
	closing := strings.IndexByte(rest, '}')
	if closing == -1 {
		v.Type = rest
		return v
	}
	v.Type = rest[:closing]
	v.Value = strings.TrimPrefix(rest[closing+1:], "=")
	return v
}

func splitEntries(s string) []string {
	var (
		entries []string
		depth   int
		quoted  bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '{':
			depth++
		case c == '}':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			entries = append(entries, s[start:i])
			start = i + 1
		}
	}
	return append(entries, s[start:])
}

var pathMasker = strings.NewReplacer(`\`, `\\`, ` `, `\ `)

// maskPath escapes backslashes and spaces so a path survives the runner's
// command tokenizer.
func maskPath(path string) string {
	return pathMasker.Replace(path)
}

func breakpointCommand(file string, line int) string {
	return "break " + maskPath(file) + ":" + strconv.Itoa(line)
}

func variablesCommand(expand string) string {
	if expand == "" {
		return "print variables"
	}
	return "print variables +" + expand
}
