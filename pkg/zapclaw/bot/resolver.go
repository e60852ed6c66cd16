// Package bot wires the inbound message pipeline: command resolution,
// type policies, media handling, agent invocation and persistence. The
// Registry at the top keeps one live channel per active session.
package bot

import (
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// ResolvedCommand is a chat command matched against the session's
// configured triggers. Args carries what followed a prefix trigger.
type ResolvedCommand struct {
	Config store.CommandConfig
	Args   string
}

// ResolveCommand matches a text message against the session's commands.
// Exact trigger matches win; the agent-switch trigger is the only one
// matched as a prefix, and it needs at least one character after it.
// Returns nil when the text is not a command.
func ResolveCommand(cmds []store.CommandConfig, text string) *ResolvedCommand {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	for _, c := range cmds {
		if !c.Ativo || c.Gatilho == "" || c.ComandoID == store.CmdTrocarAgente {
			continue
		}
		if lower == strings.ToLower(c.Gatilho) {
			return &ResolvedCommand{Config: c}
		}
	}

	// #help is a fixed alias for the help command.
	if lower == "#help" {
		for _, c := range cmds {
			if c.ComandoID == store.CmdAjuda && c.Ativo {
				return &ResolvedCommand{Config: c}
			}
		}
	}

	for _, c := range cmds {
		if !c.Ativo || c.ComandoID != store.CmdTrocarAgente || c.Gatilho == "" {
			continue
		}
		gatilho := strings.ToLower(c.Gatilho)
		if strings.HasPrefix(lower, gatilho) && len(text) > len(c.Gatilho) {
			return &ResolvedCommand{
				Config: c,
				Args:   strings.TrimSpace(text[len(c.Gatilho):]),
			}
		}
	}
	return nil
}
