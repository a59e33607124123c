package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理APIと定期実行を同一プロセスで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期実行のみで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandProcessOnce は全フィードを1回処理して終了することを示す。
	// cronなど外部スケジューラからの起動用。
	CommandProcessOnce Command = "process-once"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "process-once":
		return CommandProcessOnce
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
