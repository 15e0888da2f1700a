package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/streamlux/internal/aggregate"
	"github.com/John-Robertt/streamlux/internal/browser"
	"github.com/John-Robertt/streamlux/internal/config"
	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/infra/cache"
	"github.com/John-Robertt/streamlux/internal/infra/fsx"
	"github.com/John-Robertt/streamlux/internal/infra/httpx"
	"github.com/John-Robertt/streamlux/internal/rangeproxy"
	"github.com/John-Robertt/streamlux/internal/server"
	"github.com/John-Robertt/streamlux/internal/sniffer"
	"github.com/John-Robertt/streamlux/internal/title"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "serve":
		code = serveCmd(args[1:])
	case "scrape":
		code = scrapeCmd(args[1:])
	case "search":
		code = searchCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

type cliArgs struct {
	Config     string
	Port       int
	PortSet    bool
	Snapshot   string
	Year       string
	Positional []string
}

// parseArgs 解析各子命令共用的参数；--port 只对 serve 有效。
func parseArgs(args []string, allowPort bool) (cliArgs, error) {
	var ca cliArgs

	value := func(i *int, name string) (string, error) {
		a := args[*i]
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s 需要一个值", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config" || strings.HasPrefix(a, "--config="):
			v, err := value(&i, "--config")
			if err != nil {
				return cliArgs{}, err
			}
			if strings.TrimSpace(v) == "" {
				return cliArgs{}, fmt.Errorf("--config 不能为空")
			}
			ca.Config = v
		case a == "--snapshot" || strings.HasPrefix(a, "--snapshot="):
			v, err := value(&i, "--snapshot")
			if err != nil {
				return cliArgs{}, err
			}
			ca.Snapshot = v
		case allowPort && (a == "--port" || strings.HasPrefix(a, "--port=")):
			v, err := value(&i, "--port")
			if err != nil {
				return cliArgs{}, err
			}
			p, err := strconv.Atoi(v)
			if err != nil {
				return cliArgs{}, fmt.Errorf("--port 必须是整数，实际是 %q", v)
			}
			ca.Port, ca.PortSet = p, true
		case !allowPort && (a == "--year" || strings.HasPrefix(a, "--year=")):
			v, err := value(&i, "--year")
			if err != nil {
				return cliArgs{}, err
			}
			ca.Year = v
		case strings.HasPrefix(a, "-"):
			return cliArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			ca.Positional = append(ca.Positional, a)
		}
	}
	return ca, nil
}

func hasHelp(args []string) bool {
	for _, a := range args {
		if isHelp(a) {
			return true
		}
	}
	return false
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  streamlux serve  [--config FILE] [--port N] [--snapshot FILE]
  streamlux scrape [--config FILE] [--snapshot FILE]
  streamlux search <title> [--year YYYY] [--config FILE]

命令：
  serve   启动 HTTP 服务（代理、下载、嗅探、搜索）
  scrape  抓取全部列表来源并写入快照
  search  实时搜索支持搜索的来源并输出匹配结果

环境变量覆盖配置文件，CLI 参数覆盖环境变量。
`)
}

// loadConfig 读取配置并构造 logger；失败时已输出错误并返回非零退出码。
func loadConfig(ca cliArgs) (config.EffectiveConfig, zerolog.Logger, int) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, zerolog.Nop(), 1
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		ConfigPath:   ca.Config,
		Port:         ca.Port,
		PortSet:      ca.PortSet,
		SnapshotPath: ca.Snapshot,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", config.Code(err), err)
		return config.EffectiveConfig{}, zerolog.Nop(), 1
	}
	return eff, newLogger(os.Stderr, eff.LogLevel), 0
}

func serveCmd(args []string) int {
	if hasHelp(args) {
		printUsage()
		return 0
	}
	ca, err := parseArgs(args, true)
	if err == nil && len(ca.Positional) > 0 {
		err = fmt.Errorf("serve 不接受位置参数：%q", ca.Positional[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage()
		return 2
	}
	eff, log, code := loadConfig(ca)
	if code != 0 {
		return code
	}

	scrapeClient, err := newScrapeClient(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化抓取 client 失败")
		return 1
	}
	streamClient, err := httpx.NewStreamClient(httpx.Options{ProxyURLs: eff.ProxyURLs})
	if err != nil {
		log.Error().Err(err).Msg("初始化转发 client 失败")
		return 1
	}
	reg, err := buildRegistry(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化来源失败")
		return 1
	}

	session := browser.NewSession(browser.Options{
		ExecPath:  eff.ChromePath,
		Headless:  eff.Headless,
		UserAgent: httpx.BrowserUA,
	}, log)
	snf := sniffer.New(session, sniffer.Options{
		NavTimeout:   eff.NavTimeout,
		SniffTimeout: eff.SniffTimeout,
		CacheTTL:     eff.SniffCacheTTL,
		UserAgent:    httpx.BrowserUA,
		Client:       streamClient,
	}, log)

	aggCfg := aggregate.Config{Concurrency: eff.ScrapeConcurrency}
	srv := server.New(server.Config{
		Addr:          eff.Addr(),
		CORSOrigins:   eff.CORSOrigins,
		PublicBaseURL: eff.PublicBaseURL,
	}, server.Deps{
		Sniffer: snf,
		Relay:   rangeproxy.New(streamClient, log),
		Search: server.SearchFunc(func(ctx context.Context, q string) ([]domain.ScrapedItem, domain.AggregateReport) {
			return aggregate.Search(ctx, aggCfg, reg, q, scrapeClient, nil, log)
		}),
		Snapshot:   cache.NewSnapshot(eff.SnapshotPath),
		Client:     scrapeClient,
		OnShutdown: session.Shutdown,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", eff.Addr()).Str("config", eff.ConfigFile).Int("sources", reg.Len()).Msg("StreamLux 后端启动")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("服务异常退出")
		return 1
	}
	return 0
}

func scrapeCmd(args []string) int {
	if hasHelp(args) {
		printUsage()
		return 0
	}
	ca, err := parseArgs(args, false)
	if err == nil && (len(ca.Positional) > 0 || ca.Year != "") {
		err = fmt.Errorf("scrape 只接受 --config 与 --snapshot")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage()
		return 2
	}
	eff, log, code := loadConfig(ca)
	if code != 0 {
		return code
	}

	c, err := newScrapeClient(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化抓取 client 失败")
		return 1
	}
	reg, err := buildRegistry(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化来源失败")
		return 1
	}

	progressW, interactive := pickProgressWriter()
	var obs aggregate.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items, rep := aggregate.Execute(ctx, aggregate.Config{Concurrency: eff.ScrapeConcurrency}, reg, c, obs, log)

	snap := cache.NewSnapshot(eff.SnapshotPath)
	if err := snap.Write(items); err != nil {
		log.Error().Err(err).Str("path", snap.Path).Msg("写入快照失败")
		emitReport(rep)
		return 1
	}
	reportPath := filepath.Join(filepath.Dir(eff.SnapshotPath), "report.json")
	if err := fsx.WriteJSONAtomic(reportPath, rep); err != nil {
		log.Warn().Err(err).Str("path", reportPath).Msg("写入 report.json 失败")
	}

	emitReport(rep)
	if interactive {
		fmt.Fprintf(progressW, "snapshot: %s\nreport: %s\n", snap.Path, reportPath)
	}
	if len(rep.Sources) > 0 && rep.Failed() == len(rep.Sources) {
		return 1
	}
	return 0
}

func searchCmd(args []string) int {
	if hasHelp(args) {
		printUsage()
		return 0
	}
	ca, err := parseArgs(args, false)
	if err == nil && len(ca.Positional) == 0 {
		err = fmt.Errorf("缺少 title")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage()
		return 2
	}
	eff, log, code := loadConfig(ca)
	if code != 0 {
		return code
	}
	c, err := newScrapeClient(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化抓取 client 失败")
		return 1
	}
	reg, err := buildRegistry(eff)
	if err != nil {
		log.Error().Err(err).Msg("初始化来源失败")
		return 1
	}

	name := strings.Join(ca.Positional, " ")
	query := strings.TrimSpace(name + " " + ca.Year)

	progressW, interactive := pickProgressWriter()
	var obs aggregate.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}
	items, _ := aggregate.Search(context.Background(), aggregate.Config{Concurrency: eff.ScrapeConcurrency}, reg, query, c, obs, log)
	results := title.Dedupe(title.Rank(name, items))

	// stdout 只输出结果 JSON；过程信息走 stderr。
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
	fmt.Fprintf(os.Stderr, "完成：query=%q matched=%d scraped=%d\n", query, len(results), len(items))
	return 0
}

func emitReport(rep domain.AggregateReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：total=%d sources=%d failed=%d\n", rep.Total, len(rep.Sources), rep.Failed())
		for _, s := range rep.Sources {
			if s.Status == domain.SourceStatusFailed {
				fmt.Fprintf(os.Stderr, "%s: %s\n", s.Source, s.Error)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 只输出一个 AggregateReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(os.Stdout).Encode(rep)
	fmt.Fprintf(os.Stderr, "完成：total=%d sources=%d failed=%d\n", rep.Total, len(rep.Sources), rep.Failed())
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
