package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bfclprep/internal/diag"
	"bfclprep/internal/generate"
	"bfclprep/internal/pipeline"
)

// 退出码：0 成功；1 运行失败；3 配置/参数失败。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// 可替换的运行入口与日志构造（测试注入）。
var (
	pipelineRun = pipeline.Run
	generateRun = generate.Run
	newLogger   = diag.NewLogger
)

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configFailure(err error) error { return &exitError{code: exitConfig, err: err} }
func runFailure(err error) error    { return &exitError{code: exitRun, err: err} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行一次 CLI 调用并映射退出码。
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "错误: %v\n", err)
		}
		return ee.code
	}
	// cobra 自身的参数/旗标错误
	fmt.Fprintf(stderr, "参数错误: %v\n", err)
	return exitConfig
}

// app 汇总全局旗标与单次运行的共享状态。
type app struct {
	configPath string
	logLevel   string
	status     bool
	corrID     string
}

func newRootCmd() *cobra.Command {
	a := &app{corrID: uuid.NewString()}
	root := &cobra.Command{
		Use:           "bfclprep",
		Short:         "BFCL 训练数据准备：记录规范化与查询合成",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&a.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(newNormalizeCmd(a), newGenerateCmd(a), newInitConfigCmd())
	return root
}
