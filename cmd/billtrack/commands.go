package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"billtrack/internal/aggregate"
	"billtrack/internal/chat"
	"billtrack/internal/core"
	"billtrack/internal/export"
	"billtrack/internal/filter"
	"billtrack/internal/tui"
)

func newFlagSet(name string, s ioStreams) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(s.err)
	return fs
}

func runLogin(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("login", s)
	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, password, err := credentials(*username, *passwordFlag, s)
	if err != nil {
		return err
	}

	sess, err := a.session.Login(ctx, user, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Logged in as %s\n", sess.Identity.Username)
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string, s ioStreams) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Logged out")
	return nil
}

func runRegister(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("register", s)
	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, password, err := credentials(*username, *passwordFlag, s)
	if err != nil {
		return err
	}

	msg, err := a.session.Register(ctx, user, password)
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "Registered " + user
	}
	fmt.Fprintln(s.out, msg)
	return nil
}

func credentials(username, password string, s ioStreams) (string, string, error) {
	if strings.TrimSpace(username) == "" {
		return "", "", errors.New("missing required flags: user")
	}
	if password == "" {
		fmt.Fprint(s.out, "Password: ")
		var err error
		password, err = readPassword(s.in)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(s.out)
	}
	if strings.TrimSpace(password) == "" {
		return "", "", errors.New("password cannot be empty")
	}
	return username, password, nil
}

func runWhoami(_ context.Context, a *app, _ []string, s ioStreams) error {
	sess, err := a.requireLogin()
	if err != nil {
		return err
	}
	id := sess.Identity
	fmt.Fprintf(s.out, "%s (id %d)\n", id.Username, id.UserID)
	if !id.ExpiresAt.IsZero() {
		state := "valid until"
		if id.Expired(time.Now()) {
			state = "expired at"
		}
		fmt.Fprintf(s.out, "access %s %s\n", state, id.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

// filterFlags registers the shared filter flags on fs.
type filterFlags struct {
	types      *string
	categories *string
	from       *string
	to         *string
	days       *int
	all        *bool
}

func addFilterFlags(fs *flag.FlagSet) filterFlags {
	return filterFlags{
		types:      fs.String("type", "", "Comma-separated bill types (income, expense)"),
		categories: fs.String("category", "", "Comma-separated category codes"),
		from:       fs.String("from", "", "First date, YYYY-MM-DD"),
		to:         fs.String("to", "", "Last date, YYYY-MM-DD (default today)"),
		days:       fs.Int("days", filter.DefaultDays, "Window length in days when -from is not set"),
		all:        fs.Bool("all", false, "Ignore dates"),
	}
}

func (f filterFlags) state(today core.Date) (filter.State, error) {
	var st filter.State
	for _, v := range splitList(*f.types) {
		t, err := core.ParseBillType(v)
		if err != nil {
			return filter.State{}, err
		}
		st.Types = append(st.Types, t)
	}
	st.Categories = splitList(*f.categories)

	if *f.all {
		return st.Normalized(), nil
	}

	end := today
	if *f.to != "" {
		d, err := core.ParseDate(*f.to)
		if err != nil {
			return filter.State{}, fmt.Errorf("-to: %w", err)
		}
		end = d
	}
	start := end.AddDays(-(max(*f.days, 1) - 1))
	if *f.from != "" {
		d, err := core.ParseDate(*f.from)
		if err != nil {
			return filter.State{}, fmt.Errorf("-from: %w", err)
		}
		start = d
	}
	if end.Before(start) {
		return filter.State{}, fmt.Errorf("-from %s is after -to %s", start, end)
	}
	st.Start, st.End = start, end
	return st.Normalized().PruneCategories(), nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// fetchFiltered applies the filter flags and loads the matching bills.
func fetchFiltered(ctx context.Context, a *app, f filterFlags) (filter.State, error) {
	st, err := f.state(core.Today())
	if err != nil {
		return filter.State{}, err
	}
	if _, err := a.requireLogin(); err != nil {
		return filter.State{}, err
	}
	if err := a.filters.Set(ctx, st); err != nil {
		return filter.State{}, err
	}
	return a.filters.State(), nil
}

func runList(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("list", s)
	ff := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := fetchFiltered(ctx, a, ff); err != nil {
		return err
	}
	printBills(s.out, a.bills.Snapshot())
	return nil
}

func printBills(w io.Writer, bills []core.Bill) {
	if len(bills) == 0 {
		fmt.Fprintln(w, "No bills")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tCATEGORY\tAMOUNT\tREMARK\t")
	for _, b := range bills {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			b.ID, b.Date, b.Type.Label(), b.Type.CategoryLabel(b.Category), core.FormatAmount(b.Amount), b.RemarkText())
	}
	_ = tw.Flush()
}

// draftFlags registers the bill fields on fs.
type draftFlags struct {
	fs       *flag.FlagSet
	typ      *string
	category *string
	amount   *string
	date     *string
	remark   *string
}

func addDraftFlags(fs *flag.FlagSet) draftFlags {
	return draftFlags{
		fs:       fs,
		typ:      fs.String("type", string(core.Expense), "Bill type (income, expense)"),
		category: fs.String("category", "", "Category code"),
		amount:   fs.String("amount", "", "Amount, e.g. 12.50"),
		date:     fs.String("date", "", "Date, YYYY-MM-DD (default today)"),
		remark:   fs.String("remark", "", "Optional remark"),
	}
}

// apply overwrites the fields of d whose flag was given.
func (f draftFlags) apply(d core.BillDraft) (core.BillDraft, error) {
	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "type":
			d.Type, err = core.ParseBillType(*f.typ)
		case "category":
			d.Category = strings.TrimSpace(*f.category)
		case "amount":
			d.Amount, err = core.ParseAmount(*f.amount)
		case "date":
			d.Date, err = core.ParseDate(*f.date)
		case "remark":
			d.Remark = *f.remark
		}
		if err != nil {
			err = fmt.Errorf("-%s: %w", fl.Name, err)
		}
	})
	return d, err
}

func runAdd(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("add", s)
	df := addDraftFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	d, err := df.apply(core.BillDraft{Type: core.Expense, Date: core.Today()})
	if err != nil {
		return err
	}
	bill, err := a.bills.Add(ctx, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Added bill %d: %s %s %s on %s\n",
		bill.ID, bill.Type.Label(), bill.Type.CategoryLabel(bill.Category), core.FormatAmount(bill.Amount), bill.Date)
	return nil
}

func runEdit(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("edit", s)
	id := fs.Int64("id", 0, "Bill ID")
	df := addDraftFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("missing required flags: id")
	}
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	current, ok := findBill(a.bills.Snapshot(), *id)
	if !ok {
		return fmt.Errorf("bill %d is not in the local list, run 'billtrack list' first", *id)
	}
	d, err := df.apply(current.Draft())
	if err != nil {
		return err
	}
	bill, err := a.bills.Update(ctx, *id, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Updated bill %d: %s %s %s on %s\n",
		bill.ID, bill.Type.Label(), bill.Type.CategoryLabel(bill.Category), core.FormatAmount(bill.Amount), bill.Date)
	return nil
}

func findBill(bills []core.Bill, id int64) (core.Bill, bool) {
	for _, b := range bills {
		if b.ID == id {
			return b, true
		}
	}
	return core.Bill{}, false
}

func runRemove(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("rm", s)
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: billtrack rm [-yes] <id>")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid bill id %q", fs.Arg(0))
	}
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	if !*yes && !confirm(s, fmt.Sprintf("Delete bill %d?", id)) {
		fmt.Fprintln(s.out, "Cancelled")
		return nil
	}
	if err := a.bills.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted bill %d\n", id)
	return nil
}

func runNLP(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("nlp", s)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	msg, err := a.bills.CreateFromText(ctx, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, msg)
	return nil
}

func runSummary(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("summary", s)
	ff := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	var today core.DailySummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := fetchFiltered(gctx, a, ff)
		return err
	})
	g.Go(func() error {
		var err error
		today, err = a.summary.Today(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	st := a.filters.State()
	totals := aggregate.Totals(a.bills.Snapshot())
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Range\t%s\n", rangeLabel(st))
	fmt.Fprintf(tw, "Income\t%s\n", core.FormatAmount(totals.Income))
	fmt.Fprintf(tw, "Expense\t%s\n", core.FormatAmount(totals.Expense))
	fmt.Fprintf(tw, "Balance\t%s\n", core.FormatAmount(totals.Balance()))
	fmt.Fprintf(tw, "Today\t+%s / -%s\n", core.FormatAmount(today.Income), core.FormatAmount(today.Expense))
	return tw.Flush()
}

func rangeLabel(st filter.State) string {
	if !st.HasRange() {
		return "all dates"
	}
	return fmt.Sprintf("%s .. %s", st.Start, st.End)
}

const chartWidth = 40

func runChart(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("chart", s)
	ff := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := fetchFiltered(ctx, a, ff)
	if err != nil {
		return err
	}
	bills := a.bills.Snapshot()

	fmt.Fprintf(s.out, "By category, %s\n", rangeLabel(st))
	byCategory := aggregate.ByCategory(bills, st)
	peak := decimal.Zero
	for _, c := range byCategory {
		peak = decimal.Max(peak, c.Amount)
	}
	for _, c := range byCategory {
		fmt.Fprintf(s.out, "  %-7s %-10s %s %s\n", c.Type.Label(), c.Label, textBar(c.Amount, peak), core.FormatAmount(c.Amount))
	}

	days := aggregate.DayTotals(aggregate.Daily(bills, st))
	if len(days) == 0 {
		return nil
	}
	fmt.Fprintf(s.out, "\nDaily %s\n", aggregate.DailyType(st).Label())
	peak = decimal.Zero
	for _, d := range days {
		peak = decimal.Max(peak, d.Amount)
	}
	for _, d := range days {
		fmt.Fprintf(s.out, "  %s %s %s\n", d.Date, textBar(d.Amount, peak), core.FormatAmount(d.Amount))
	}
	return nil
}

func textBar(v, peak decimal.Decimal) string {
	n := 0
	if peak.IsPositive() {
		n = int(v.Mul(decimal.NewFromInt(chartWidth)).Div(peak).IntPart())
	}
	return strings.Repeat("#", n) + strings.Repeat(".", chartWidth-n)
}

func runChat(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("chat", s)
	ff := addFilterFlags(fs)
	history := fs.Bool("history", false, "Print the conversation history first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := fetchFiltered(ctx, a, ff); err != nil {
		return err
	}
	if err := a.chat.Initialize(ctx); err != nil {
		return err
	}
	if *history {
		for _, m := range a.chat.Messages() {
			printMessage(s.out, m.Sender == chat.User, m.Content)
		}
	}

	if fs.NArg() > 0 {
		return ask(ctx, a, s, strings.Join(fs.Args(), " "))
	}

	fmt.Fprintln(s.out, "Ask about the bills in view. /clear empties the conversation, /quit leaves.")
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if a.chat.Clear(func() bool { return confirmScanner(s, scanner, "Clear the conversation?") }) {
				fmt.Fprintln(s.out, "Conversation cleared")
			}
			continue
		}
		if err := ask(ctx, a, s, line); err != nil {
			var ae *core.AnalysisError
			if !errors.As(err, &ae) {
				return err
			}
		}
	}
}

// ask sends one question and prints the answer, or the apology when the
// analysis failed.
func ask(ctx context.Context, a *app, s ioStreams, question string) error {
	reply, err := a.chat.Send(ctx, question)
	if err != nil && reply.Content == "" {
		return err
	}
	printMessage(s.out, false, reply.Content)
	return err
}

func printMessage(w io.Writer, fromUser bool, content string) {
	who := "assistant"
	if fromUser {
		who = "you"
	}
	fmt.Fprintf(w, "%s: %s\n", who, content)
}

func runExport(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("export", s)
	ff := addFilterFlags(fs)
	out := fs.String("o", "", "CSV output file (default stdout)")
	sheets := fs.Bool("sheets", false, "Write to the configured Google Sheet instead of CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := fetchFiltered(ctx, a, ff); err != nil {
		return err
	}
	bills := a.bills.Snapshot()

	if *sheets {
		if !a.cfg.SheetsEnabled() {
			return errors.New("sheets export is not configured, set GOOGLE_SPREADSHEET_ID")
		}
		exp, err := export.NewSheetsExporter(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		rng, err := exp.Export(ctx, bills)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Exported %d bills to %s\n", len(bills), rng)
		return nil
	}

	if *out == "" {
		return export.WriteCSV(s.out, bills)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	if err := export.WriteCSV(f, bills); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", *out, err)
	}
	fmt.Fprintf(s.out, "Exported %d bills to %s\n", len(bills), *out)
	return nil
}

func runTUI(ctx context.Context, a *app, args []string, s ioStreams) error {
	fs := newFlagSet("tui", s)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := a.requireLogin()
	if err != nil {
		return err
	}

	changes := make(chan struct{}, 1)
	stop := a.bills.OnDataChanged(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer stop()

	model := tui.New(ctx, tui.Deps{
		Bills:    a.bills,
		Filters:  a.filters,
		Summary:  a.summary,
		Chat:     a.chat,
		Username: sess.Identity.Username,
		Changes:  changes,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx),
		tea.WithInput(s.in), tea.WithOutput(s.out))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
