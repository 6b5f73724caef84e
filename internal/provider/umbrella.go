package provider

import (
	"fmt"
	"strings"
	"time"
)

type UmbrellaArgs struct {
	Command string `json:"command"`
}

// Umbrella は平文のサブコマンドを受け付ける総合ツール
type Umbrella struct {
	name   string
	server *FileMCPServer
}

func NewUmbrella(name string, server *FileMCPServer) *Umbrella {
	return &Umbrella{name: name, server: server}
}

func (u *Umbrella) Name() string {
	return u.name
}

func (u *Umbrella) Description() string {
	return fmt.Sprintf("Umbrella command for the %s workspace provider. Sub-commands: help, list, ping, status.", u.name)
}

// Examples はクライアントがメタコマンドを導出するための例
func (u *Umbrella) Examples() []any {
	return []any{u.name + " help", u.name + " list", u.name + " ping", u.name + " status"}
}

// Execute はサブコマンドを解釈して実行する
func (u *Umbrella) Execute(args UmbrellaArgs) (string, error) {
	fields := strings.Fields(args.Command)
	if len(fields) == 0 {
		return u.help(), nil
	}
	switch strings.ToLower(fields[0]) {
	case "help":
		return u.help(), nil
	case "list":
		return strings.Join(u.server.toolNames(), "\n"), nil
	case "ping":
		return "pong", nil
	case "status":
		return u.status(), nil
	case "use":
		return fmt.Sprintf("Using %s.\n%s", u.name, u.status()), nil
	default:
		return "", fmt.Errorf("unknown %s command %q; try \"%s help\"", u.name, fields[0], u.name)
	}
}

func (u *Umbrella) help() string {
	return strings.Join([]string{
		u.name + " help    show this message",
		u.name + " list    list the available tools",
		u.name + " ping    check that the provider answers",
		u.name + " status  show the workspace root and uptime",
	}, "\n")
}

func (u *Umbrella) status() string {
	uptime := time.Since(u.server.started).Truncate(time.Second)
	return fmt.Sprintf("root: %s\ntools: %d\nuptime: %s", u.server.workspace.Root(), len(u.server.toolNames()), uptime)
}
