package bot

import (
	"fmt"
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// ExecuteCommand applies a resolved command's side effects and returns the
// reply to send. Commands run even while auto replies are off.
func (o *Orchestrator) ExecuteCommand(sess *store.Session, telefone string, cmd *ResolvedCommand) (string, error) {
	switch cmd.Config.ComandoID {
	case store.CmdAtivar:
		if err := o.store.Sessions.SetAutoResponder(sess.ID, true); err != nil {
			return "", err
		}
		return cmd.Config.Resposta, nil

	case store.CmdDesativar:
		if err := o.store.Sessions.SetAutoResponder(sess.ID, false); err != nil {
			return "", err
		}
		return cmd.Config.Resposta, nil

	case store.CmdLimpar:
		if _, err := o.store.Messages.ClearHistory(sess.ID, telefone); err != nil {
			return "", err
		}
		return cmd.Config.Resposta, nil

	case store.CmdAjuda:
		return o.helpText(sess.ID)

	case store.CmdStatus:
		return o.statusText(sess)

	case store.CmdListar:
		return o.agentListText(sess)

	case store.CmdTrocarAgente:
		return o.switchAgent(sess, cmd)

	default:
		// Unknown ids fall back to their configured fixed reply.
		return cmd.Config.Resposta, nil
	}
}

func (o *Orchestrator) helpText(sessaoID int64) (string, error) {
	cmds, err := o.store.Commands.ListForSession(sessaoID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("*Comandos disponíveis:*\n")
	for _, c := range cmds {
		if !c.Ativo {
			continue
		}
		gatilho := c.Gatilho
		if c.ComandoID == store.CmdTrocarAgente {
			gatilho = c.Gatilho + "<codigo>"
		}
		fmt.Fprintf(&b, "%s - %s\n", gatilho, c.Descricao)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) statusText(sess *store.Session) (string, error) {
	total, respondidas, err := o.store.Messages.CountBySession(sess.ID)
	if err != nil {
		return "", err
	}

	autoResposta := "desativadas"
	if sess.AutoResponder {
		autoResposta = "ativadas"
	}

	agente := "nenhum"
	if sess.AgenteAtivoID != 0 {
		if a, err := o.store.Agents.GetByID(sess.AgenteAtivoID); err == nil {
			agente = fmt.Sprintf("%s (#%s)", a.Nome, a.Codigo)
		}
	}

	nome := o.store.Settings.GetString("sistema_nome", "ZapClaw")
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Status - %s*\n", nome)
	fmt.Fprintf(&b, "Sessão: %s\n", sess.Nome)
	fmt.Fprintf(&b, "Status: %s\n", sess.Status)
	fmt.Fprintf(&b, "Respostas automáticas: %s\n", autoResposta)
	fmt.Fprintf(&b, "Agente ativo: %s\n", agente)
	fmt.Fprintf(&b, "Mensagens: %d recebidas, %d respondidas", total, respondidas)
	return b.String(), nil
}

func (o *Orchestrator) agentListText(sess *store.Session) (string, error) {
	agentes, err := o.store.Agents.ListActive()
	if err != nil {
		return "", err
	}
	if len(agentes) == 0 {
		return "Nenhum agente cadastrado.", nil
	}

	var b strings.Builder
	b.WriteString("*Agentes disponíveis:*\n")
	for _, a := range agentes {
		marker := ""
		if a.ID == sess.AgenteAtivoID {
			marker = " ✅"
		}
		fmt.Fprintf(&b, "#%s - %s%s\n", a.Codigo, a.Nome, marker)
		if a.Descricao != "" {
			fmt.Fprintf(&b, "   _%s_\n", a.Descricao)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) switchAgent(sess *store.Session, cmd *ResolvedCommand) (string, error) {
	codigo := strings.TrimSpace(cmd.Args)
	if codigo == "" {
		return "Informe o código do agente. Use #listar para ver os disponíveis.", nil
	}

	a, err := o.store.Agents.GetByCode(codigo)
	if err != nil {
		return fmt.Sprintf("❌ Agente *%s* não encontrado. Use #listar para ver os disponíveis.", codigo), nil
	}
	if !a.Ativo {
		return fmt.Sprintf("❌ O agente *%s* está desativado.", a.Nome), nil
	}

	if err := o.store.Sessions.SetActiveAgent(sess.ID, a.ID); err != nil {
		return "", err
	}
	sess.AgenteAtivoID = a.ID

	if strings.Contains(cmd.Config.Resposta, "%s") {
		return fmt.Sprintf(cmd.Config.Resposta, a.Nome), nil
	}
	return cmd.Config.Resposta, nil
}
