package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーを常駐させる。
	CommandWorker Command = "worker"
	// CommandCleanup はクリーンアップを1回だけ実行して終了する。
	// Cloud Schedulerやcronから起動する。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行する。
	// "migrate down [n]" でn件戻す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandCleanup):     CommandCleanup,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// migrateDirection はmigrateサブコマンドの引数を解析する。
// 戻り値のstepsが0なら全件適用、正なら指定件数のロールバック。
func migrateDirection(args []string) (steps int, err error) {
	if len(args) == 0 || args[0] == "up" {
		return 0, nil
	}
	if args[0] != "down" {
		return 0, fmt.Errorf("unknown migrate direction: %q", args[0])
	}
	if len(args) < 2 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rollback steps: %q", args[1])
	}
	return n, nil
}
