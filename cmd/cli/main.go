package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/notify"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "slotwatch:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "slotwatch"
	app.HelpName = "slotwatch"
	app.Usage = "Control a running appointment monitor."
	app.UsageText = "slotwatch <command> [arguments...]"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "api, a",
			Usage:  "base URL of the monitor API",
			Value:  "http://localhost:8080",
			EnvVar: "API_BASE",
		},
		cli.StringFlag{
			Name:   "key, k",
			Usage:  "API key (admin key for control commands)",
			EnvVar: "API_KEY",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "start",
			Usage:     "start periodic checking",
			ArgsUsage: "<minutes> [seconds]",
			Action:    start,
		},
		{
			Name:   "stop",
			Usage:  "stop periodic checking",
			Action: stop,
		},
		{
			Name:   "check",
			Usage:  "run one check now and print the results",
			Action: check,
		},
		{
			Name:   "status",
			Usage:  "show the monitor status",
			Action: status,
		},
		{
			Name:   "results",
			Usage:  "show the latest result per date",
			Action: results,
		},
		{
			Name:   "events",
			Usage:  "show recent availability changes",
			Action: events,
		},
		{
			Name:  "dates",
			Usage: "manage watched dates",
			Subcommands: []cli.Command{
				{Name: "list", Aliases: []string{"ls"}, Action: listDates},
				{Name: "add", ArgsUsage: "<YYYY/MM/DD|DD.MM.YYYY>", Action: addDate},
				{Name: "rm", ArgsUsage: "<YYYY/MM/DD|DD.MM.YYYY>", Action: removeDate},
			},
		},
		{
			Name:  "settings",
			Usage: "show or change the booking site settings",
			Subcommands: []cli.Command{
				{Name: "show", Action: showSettings},
				{
					Name:  "set",
					Usage: "change the given fields; the rest stay as they are",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "url", Usage: "booking site URL"},
						cli.StringFlag{Name: "location", Usage: "location option value"},
						cli.StringFlag{Name: "location-name", Usage: "display name for --location"},
						cli.StringFlag{Name: "services", Usage: "comma-separated service keys to request; replaces the current set"},
					},
					Action: setSettings,
				},
			},
		},
		{
			Name:   "notify-test",
			Usage:  "send a test message through every channel",
			Action: notifyTest,
		},
	}
	return app
}

func client(ctx *cli.Context) *apiClient {
	return newClient(ctx.GlobalString("api"), ctx.GlobalString("key"))
}

func start(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	minutes, err := strconv.Atoi(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("minutes: %w", err)
	}
	seconds := 0
	if s := ctx.Args().Get(1); s != "" {
		if seconds, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("seconds: %w", err)
		}
	}
	var st domain.MonitoringStatus
	in := map[string]int{"interval_minutes": minutes, "interval_seconds": seconds}
	if _, err := client(ctx).call("POST", "/api/monitor/start", in, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func stop(ctx *cli.Context) error {
	var st domain.MonitoringStatus
	if _, err := client(ctx).call("POST", "/api/monitor/stop", nil, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func check(ctx *cli.Context) error {
	var out checkReply
	_, err := client(ctx).call("POST", "/api/monitor/check", nil, &out)
	if err != nil && len(out.Results) == 0 {
		return err
	}
	printResults(out.Results)
	return err
}

func status(ctx *cli.Context) error {
	var st domain.MonitoringStatus
	if _, err := client(ctx).call("GET", "/api/monitor/status", nil, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func results(ctx *cli.Context) error {
	var res []domain.CheckResult
	if _, err := client(ctx).call("GET", "/api/monitor/results", nil, &res); err != nil {
		return err
	}
	printResults(res)
	return nil
}

func events(ctx *cli.Context) error {
	var evs []domain.AppointmentEvent
	if _, err := client(ctx).call("GET", "/api/monitor/events", nil, &evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Println("no events yet")
		return nil
	}
	for _, e := range evs {
		fmt.Printf("%-14s %-13s %s  (%s)\n", humanize.Time(e.Timestamp), e.Type, e.Date, e.Message)
	}
	return nil
}

func listDates(ctx *cli.Context) error {
	var dates []string
	if _, err := client(ctx).call("GET", "/api/dates", nil, &dates); err != nil {
		return err
	}
	if len(dates) == 0 {
		fmt.Println("no dates watched")
		return nil
	}
	for _, d := range dates {
		fmt.Println(d)
	}
	return nil
}

func addDate(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	var out struct {
		Date  string `json:"date"`
		Added bool   `json:"added"`
	}
	if _, err := client(ctx).call("POST", "/api/dates", map[string]string{"date": ctx.Args().First()}, &out); err != nil {
		return err
	}
	if out.Added {
		fmt.Println("watching", out.Date)
	} else {
		fmt.Println("already watching", out.Date)
	}
	return nil
}

func removeDate(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	code, err := client(ctx).call("DELETE", datePath(ctx.Args().First()), nil, nil)
	if err != nil {
		return err
	}
	if code == 404 {
		fmt.Println("not watched:", ctx.Args().First())
		return nil
	}
	fmt.Println("removed", ctx.Args().First())
	return nil
}

type settingsReply struct {
	WebsiteURL       string                     `json:"website_url"`
	SelectedServices domain.ServiceSelection    `json:"selected_services"`
	SelectedLocation domain.LocationSelection   `json:"selected_location"`
	Locations        []domain.LocationSelection `json:"locations"`
}

func showSettings(ctx *cli.Context) error {
	var st settingsReply
	if _, err := client(ctx).call("GET", "/api/settings", nil, &st); err != nil {
		return err
	}
	printSettings(st)
	return nil
}

func setSettings(ctx *cli.Context) error {
	in := map[string]any{}
	if ctx.IsSet("url") {
		in["website_url"] = ctx.String("url")
	}
	if ctx.IsSet("location") {
		in["selected_location"] = domain.LocationSelection{Value: ctx.String("location"), Name: ctx.String("location-name")}
	}
	if ctx.IsSet("services") {
		sel := domain.ServiceSelection{}
		for _, k := range strings.Split(ctx.String("services"), ",") {
			if k = strings.TrimSpace(k); k != "" {
				sel[k] = true
			}
		}
		in["selected_services"] = sel
	}
	if len(in) == 0 {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	var st settingsReply
	if _, err := client(ctx).call("PUT", "/api/settings", in, &st); err != nil {
		return err
	}
	printSettings(st)
	return nil
}

func printSettings(st settingsReply) {
	fmt.Println("url:      ", st.WebsiteURL)
	fmt.Println("services: ", strings.Join(st.SelectedServices.Enabled(), ", "))
	loc := st.SelectedLocation.Value
	if st.SelectedLocation.Name != "" {
		loc += " (" + st.SelectedLocation.Name + ")"
	}
	fmt.Println("location: ", loc)
	for _, l := range st.Locations {
		fmt.Printf("           %s  %s\n", l.Value, l.Name)
	}
}

func notifyTest(ctx *cli.Context) error {
	var out []notify.Delivery
	_, err := client(ctx).call("POST", "/api/notify/test", nil, &out)
	for _, d := range out {
		if d.Success {
			fmt.Printf("%-10s ok\n", d.Channel)
		} else {
			fmt.Printf("%-10s failed: %s\n", d.Channel, d.Error)
		}
	}
	return err
}

func printStatus(st domain.MonitoringStatus) {
	state := "stopped"
	switch {
	case st.IsInitializing:
		state = "initializing"
	case st.IsCurrentlyChecking:
		state = "checking"
	case st.IsActive:
		state = "waiting"
	}
	fmt.Println("state:    ", state)
	if st.IsActive {
		fmt.Println("interval: ", time.Duration(st.IntervalMinutes)*time.Minute+time.Duration(st.IntervalSeconds)*time.Second)
	}
	last := "never"
	if st.LastCheckTime != nil {
		last = humanize.Time(*st.LastCheckTime)
	}
	fmt.Println("last run: ", last)
	if st.TargetURL != "" {
		fmt.Println("target:   ", st.TargetURL)
	}
}

func printResults(res []domain.CheckResult) {
	if len(res) == 0 {
		fmt.Println("no results")
		return
	}
	for _, r := range res {
		mark := "-"
		if r.Available {
			mark = "AVAILABLE"
		}
		line := fmt.Sprintf("%s  %-9s", r.Date, mark)
		if r.Metadata != nil && r.Metadata.Time != "" {
			line += "  " + strings.TrimSpace(r.Metadata.Time+" "+r.Metadata.Type)
		}
		if r.Reason != "" {
			line += "  (" + r.Reason + ")"
		}
		fmt.Println(line)
	}
}
