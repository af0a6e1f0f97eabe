package clicmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datacontracts/shepherd/internal/agent"
	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/chat/slackchat"
	"github.com/datacontracts/shepherd/internal/chat/whatsappchat"
	"github.com/datacontracts/shepherd/internal/config"
	"github.com/datacontracts/shepherd/internal/digest"
	"github.com/datacontracts/shepherd/internal/dispatch"
	"github.com/datacontracts/shepherd/internal/identity"
	"github.com/datacontracts/shepherd/internal/listener"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/planner"
	"github.com/datacontracts/shepherd/internal/reminder"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/scheduler"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/suggest"
	"github.com/datacontracts/shepherd/internal/tools"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot: listener, scheduler and planner loops",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	printHeader("starting contractbot")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.New(cfg.Paths.DataDir, store.Config{
		MaxRetries:  cfg.Store.WriteMaxRetries,
		BackoffBase: cfg.Store.WriteBackoffBase,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	chatSvc, runChat, err := buildChatService(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build chat service: %w", err)
	}

	provider := llm.NewRetryingProvider(llm.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.CheapModel))

	auditMirror := buildAuditMirror(cfg)
	auditLog := audit.NewLog(st, "memory/audit.jsonl", auditMirror)
	plannerLog := audit.NewLog(st, "tasks/planner_log.jsonl", auditMirror)

	idSvc := identity.New(st)
	suggestEngine := suggest.New(st, chatSvc, cfg.Chat.ChannelID)
	suggestEngine.CooldownDays = cfg.Suggestion.CooldownDays
	suggestEngine.DismissCooldownDays = cfg.Suggestion.DismissCooldownDays
	suggestEngine.MaxPerDay = cfg.Suggestion.MaxPerDay

	rt := &router.Router{Provider: provider, Model: cfg.Model.CheapModel, Resolve: chatSvc.ResolveUsername}

	deps := &tools.Deps{
		Store:    st,
		Chat:     chatSvc,
		LLM:      provider,
		Identity: idSvc,
		Audit:    auditLog,
		Suggest:  suggestEngine,
	}

	ag := agent.New(st, chatSvc, rt, provider, idSvc, deps)
	ag.HeavyModel = cfg.Model.HeavyModel
	ag.CheapModel = cfg.Model.CheapModel
	ag.MaxToolIterations = cfg.Model.MaxToolIterations
	ag.ThreadTTL = time.Duration(cfg.Thread.TTLDays) * 24 * time.Hour

	disp := dispatch.New(chatSvc, plannerLog, cfg.Chat.ChannelID)
	pl := planner.New(st, idSvc, disp, provider, plannerLog)
	pl.Cfg.MaxActiveInitiatives = cfg.Planner.MaxActiveInitiatives
	pl.Cfg.MaxNewThreadsPerDay = cfg.Planner.MaxNewThreadsPerDay
	pl.Cfg.MaxMessagesPerDay = cfg.Planner.MaxMessagesPerDay
	pl.Cfg.MaxActionsPerInitiativePerDay = cfg.Planner.MaxActionsPerInitiative
	pl.Cfg.CooldownHours = cfg.Planner.CooldownHours
	pl.Cfg.WaitBeforeFollowupHours = cfg.Planner.WaitBeforeFollowupHours
	pl.Cfg.StaleInitiativeDays = cfg.Planner.StaleInitiativeDays
	pl.EscalationUser = cfg.Reminder.EscalationUser

	lst := listener.New(chatSvc, ag, st)
	lst.Planner = pl
	lst.DedupTTL = time.Duration(cfg.Dedup.TTLSeconds) * time.Second
	lst.DedupMaxEntries = cfg.Dedup.MaxEntries

	rem := reminder.New(st, chatSvc, provider)
	rem.ChannelID = cfg.Chat.ChannelID
	rem.CheapModel = cfg.Model.CheapModel
	rem.DefaultIntervalDays = cfg.Reminder.DefaultIntervalDays
	rem.EscalationUser = cfg.Reminder.EscalationUser

	dig := digest.New(st, chatSvc, provider, cfg.Chat.ChannelID)
	dig.HeavyModel = cfg.Model.HeavyModel
	dig.StaleReviewDays = cfg.Governance.ReviewThresholdDays

	sch := scheduler.New(scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		MaxConcLLM:   cfg.Scheduler.MaxConcLLM,
		MaxConcOther: cfg.Scheduler.MaxConcDefault,
		LockPath:     filepath.Join(cfg.Paths.DataDir, "scheduler.lock"),
	})

	reminderCron, err := scheduler.ParseCron(everyNHours(cfg.Reminder.CheckHours))
	if err != nil {
		return fmt.Errorf("reminder cron: %w", err)
	}
	sch.Register(&scheduler.Job{Name: "reminder_ladder", Cron: reminderCron, Category: scheduler.CategoryLLM, Run: rem.Run})

	digestCron, err := scheduler.ParseCron("0 17 * * 5")
	if err != nil {
		return fmt.Errorf("digest cron: %w", err)
	}
	sch.Register(&scheduler.Job{Name: "weekly_digest", Cron: digestCron, Category: scheduler.CategoryLLM, Run: dig.Run})

	coverageCron, err := scheduler.ParseCron("0 10 * * 2")
	if err != nil {
		return fmt.Errorf("coverage scan cron: %w", err)
	}
	sch.Register(&scheduler.Job{Name: "coverage_scan", Cron: coverageCron, Category: scheduler.CategoryDefault, Run: suggestEngine.RunCoverageScan})

	gcCron, err := scheduler.ParseCron("0 3 * * *")
	if err != nil {
		return fmt.Errorf("thread gc cron: %w", err)
	}
	sch.Register(&scheduler.Job{Name: "thread_gc", Cron: gcCron, Category: scheduler.CategoryDefault, Run: ag.PruneActiveThreads})

	if strings.EqualFold(strings.TrimSpace(cfg.Planner.RunTime), "now") {
		if err := pl.Run(cmd.Context(), time.Now()); err != nil {
			return fmt.Errorf("planner run: %w", err)
		}
	} else {
		plannerCron, err := scheduler.ParseCron(workdaysCron(cfg.Planner.RunTime, cfg.Planner.Workdays))
		if err != nil {
			return fmt.Errorf("planner cron: %w", err)
		}
		sch.Register(&scheduler.Job{Name: "continuous_planner", Cron: plannerCron, Category: scheduler.CategoryLLM, Run: pl.Run})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthSrv := startHealthServer(cfg.Gateway.Host, cfg.Gateway.Port)
	defer healthSrv.Close()

	errCh := make(chan error, 3)
	go func() { errCh <- runChat(ctx) }()
	go func() { errCh <- lst.Run(ctx) }()
	go func() { errCh <- sch.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// buildChatService constructs the configured chat.Service adapter and
// returns the function that runs its connection loop.
func buildChatService(ctx context.Context, cfg *config.Config) (chat.Service, func(context.Context) error, error) {
	switch strings.ToLower(cfg.Chat.Backend) {
	case "whatsapp":
		svc, err := whatsappchat.New(ctx, whatsappchat.Config{
			DBPath: filepath.Join(cfg.Paths.DataDir, "whatsapp.db"),
			QRPath: filepath.Join(cfg.Paths.DataDir, "whatsapp-qr.png"),
		})
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Run, nil
	case "slack", "":
		svc := slackchat.New(cfg.Chat.Slack.BotToken, cfg.Chat.Slack.AppToken)
		return svc, svc.Run, nil
	default:
		return nil, nil, fmt.Errorf("unknown chat backend %q", cfg.Chat.Backend)
	}
}

// startHealthServer serves a bare liveness probe at /healthz for process
// supervisors (not a public API, per GatewayConfig's purpose). Errors are
// logged and swallowed: the probe is a convenience, never a reason to fail
// startup.
func startHealthServer(host string, port int) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: net.JoinHostPort(host, strconv.Itoa(port)), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "contractbot: health server: %v\n", err)
		}
	}()
	return srv
}

func buildAuditMirror(cfg *config.Config) audit.Mirror {
	if cfg.Audit.KafkaBrokers == "" {
		return nil
	}
	brokers := strings.Split(cfg.Audit.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	topic := cfg.Audit.KafkaTopic
	if topic == "" {
		topic = "contractbot-audit"
	}
	return audit.NewKafkaMirror(brokers, topic)
}

// everyNHours renders a cron expression firing on the hour every n hours.
func everyNHours(n int) string {
	if n <= 0 {
		n = 4
	}
	return "0 */" + strconv.Itoa(n) + " * * *"
}

// workdaysCron renders the planner's HH:MM run time and comma-separated
// weekday list ("Mon,Tue,...") into a 5-field cron expression.
func workdaysCron(runTime, workdays string) string {
	hour, minute := "9", "0"
	if parts := strings.SplitN(runTime, ":", 2); len(parts) == 2 {
		hour, minute = parts[0], parts[1]
	}
	return strings.TrimSpace(minute) + " " + strings.TrimSpace(hour) + " * * " + weekdayNumbers(workdays)
}

var weekdayNumber = map[string]string{
	"sun": "0", "mon": "1", "tue": "2", "wed": "3", "thu": "4", "fri": "5", "sat": "6",
}

func weekdayNumbers(workdays string) string {
	days := strings.Split(workdays, ",")
	nums := make([]string, 0, len(days))
	for _, d := range days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		if n, ok := weekdayNumber[key]; ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return "1,2,3,4,5"
	}
	return strings.Join(nums, ",")
}
