package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/thereceipt/print-station/internal/api"
	"github.com/thereceipt/print-station/internal/queue"
)

var (
	requestHeader = []string{"ID", "NOTE", "STATUS", "STATION", "AGE", "LEASE"}
	stationHeader = []string{"NAME", "TRANSPORT", "STATE", "DRAWER", "LAST ERROR"}
)

// healthView mirrors GET /health
type healthView struct {
	Status string      `json:"status"`
	Uptime string      `json:"uptime"`
	Queue  queue.Stats `json:"queue"`
}

// dashboardSnapshot is one poll of the server
type dashboardSnapshot struct {
	Pending  []queue.Request
	Stations []api.StationStatus
	Health   healthView
	Err      error
}

// dashboard is a live terminal view of the queue and the stations
type dashboard struct {
	app      *tview.Application
	client   *apiClient
	interval time.Duration
	kick     chan struct{}

	requests *tview.Table
	stations *tview.Table
	status   *tview.TextView
	events   *tview.TextView
	layout   *tview.Flex

	lines    []string
	maxLines int
}

func newDashboard(client *apiClient, interval time.Duration) *dashboard {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	d := &dashboard{
		app:      tview.NewApplication(),
		client:   client,
		interval: interval,
		kick:     make(chan struct{}, 1),
		maxLines: 100,
	}
	d.setupUI()
	return d
}

func (d *dashboard) setupUI() {
	d.requests = tview.NewTable()
	d.requests.SetBorder(true)
	d.requests.SetTitle("Pending Requests")
	d.requests.SetSelectable(true, false)
	d.requests.SetFixed(1, 0)

	d.stations = tview.NewTable()
	d.stations.SetBorder(true)
	d.stations.SetTitle("Stations")
	d.stations.SetSelectable(true, false)
	d.stations.SetFixed(1, 0)

	d.status = tview.NewTextView()
	d.status.SetBorder(true)
	d.status.SetTitle("Server")
	d.status.SetDynamicColors(true)

	d.events = tview.NewTextView()
	d.events.SetBorder(true)
	d.events.SetTitle("Queue Events")
	d.events.SetDynamicColors(true)
	d.events.SetScrollable(true)

	side := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.status, 7, 0, false).
		AddItem(d.stations, 0, 1, false)

	top := tview.NewFlex().
		AddItem(d.requests, 0, 2, true).
		AddItem(side, 0, 1, false)

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]q[white] quit  [yellow]r[white] refresh  [yellow]Tab[white] switch panel")

	d.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 0, 2, true).
		AddItem(d.events, 0, 1, false).
		AddItem(help, 1, 0, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyEsc:
			d.app.Stop()
			return nil
		case tcell.KeyTab:
			if d.requests.HasFocus() {
				d.app.SetFocus(d.stations)
			} else {
				d.app.SetFocus(d.requests)
			}
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				d.app.Stop()
				return nil
			case 'r':
				d.refresh()
				return nil
			}
		}
		return event
	})

	d.app.SetRoot(d.layout, true)
}

// Run shows the dashboard until the user quits or ctx is done
func (d *dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.render(d.fetch(ctx))
	go d.pollLoop(ctx)
	go d.streamEvents(ctx)
	go func() {
		<-ctx.Done()
		d.app.Stop()
	}()

	return d.app.Run()
}

// refresh asks the poll loop for an early update
func (d *dashboard) refresh() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *dashboard) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		snap := d.fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		d.app.QueueUpdateDraw(func() {
			d.render(snap)
		})
	}
}

// fetch polls the endpoints the dashboard shows. The first failure is kept in Err.
func (d *dashboard) fetch(ctx context.Context) dashboardSnapshot {
	var snap dashboardSnapshot

	var pending struct {
		Requests []queue.Request `json:"requests"`
	}
	if err := d.client.do(ctx, "GET", "/print-requests", nil, &pending); err != nil {
		snap.Err = err
		return snap
	}
	snap.Pending = pending.Requests

	var stations struct {
		Stations []api.StationStatus `json:"stations"`
	}
	if err := d.client.do(ctx, "GET", "/stations", nil, &stations); err != nil {
		snap.Err = err
		return snap
	}
	snap.Stations = stations.Stations

	if err := d.client.do(ctx, "GET", "/health", nil, &snap.Health); err != nil {
		snap.Err = err
	}
	return snap
}

func (d *dashboard) render(snap dashboardSnapshot) {
	d.status.SetText(statusText(snap, d.client.base))
	if snap.Err != nil {
		return
	}
	fillTable(d.requests, requestHeader, requestRows(snap.Pending, time.Now()), "No pending requests")
	fillTable(d.stations, stationHeader, stationRows(snap.Stations), "No stations on this server")
}

func (d *dashboard) streamEvents(ctx context.Context) {
	wsURL, err := d.client.wsURL()
	if err != nil {
		d.app.QueueUpdateDraw(func() { d.addLine("[red]" + tview.Escape(err.Error()) + "[white]") })
		return
	}

	for ctx.Err() == nil {
		err := d.readEvents(ctx, wsURL)
		if ctx.Err() != nil {
			return
		}
		msg := fmt.Sprintf("[yellow]Event stream lost: %s, retrying[white]", tview.Escape(err.Error()))
		d.app.QueueUpdateDraw(func() { d.addLine(msg) })

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.interval):
		}
	}
}

func (d *dashboard) readEvents(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		var ev queue.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Type == "" {
			continue
		}
		d.app.QueueUpdateDraw(func() { d.addLine(eventLine(ev)) })
		d.refresh()
	}
}

// addLine appends to the event log, keeping the last maxLines entries
func (d *dashboard) addLine(line string) {
	d.lines = append(d.lines, line)
	if len(d.lines) > d.maxLines {
		d.lines = d.lines[len(d.lines)-d.maxLines:]
	}
	d.events.SetText(strings.Join(d.lines, "\n"))
	d.events.ScrollToEnd()
}

func fillTable(table *tview.Table, header []string, rows [][]string, empty string) {
	table.Clear()
	for col, title := range header {
		table.SetCell(0, col, tview.NewTableCell(title).
			SetAlign(tview.AlignCenter).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}

	if len(rows) == 0 {
		table.SetCell(1, 0, tview.NewTableCell(empty).SetSelectable(false))
		return
	}
	for i, row := range rows {
		for col, text := range row {
			table.SetCell(i+1, col, tview.NewTableCell(text).SetExpansion(1))
		}
	}
}

func requestRows(reqs []queue.Request, now time.Time) [][]string {
	rows := make([][]string, 0, len(reqs))
	for _, r := range reqs {
		status := "⏳ pending"
		lease := ""
		if r.Claimed(now) {
			status = "🟡 claimed"
			lease = r.LeaseExpiresAt.Sub(now).Truncate(time.Second).String()
		}
		rows = append(rows, []string{
			shortID(r.ID),
			r.NoteID,
			status,
			r.ClaimedBy,
			now.Sub(r.CreatedAt).Truncate(time.Second).String(),
			lease,
		})
	}
	return rows
}

func stationRows(stations []api.StationStatus) [][]string {
	rows := make([][]string, 0, len(stations))
	for _, st := range stations {
		state := "🔴 offline"
		if st.Connected {
			state = "🟢 online"
		}
		drawer := "no"
		if st.Drawer {
			drawer = "yes"
		}
		rows = append(rows, []string{st.Name, string(st.Transport), state, drawer, st.LastError})
	}
	return rows
}

func statusText(snap dashboardSnapshot, server string) string {
	if snap.Err != nil {
		var apiErr *apiError
		if errors.As(snap.Err, &apiErr) {
			return fmt.Sprintf("[red]🔴 %s[white]\n\n%s", tview.Escape(apiErr.Error()), server)
		}
		return fmt.Sprintf("[red]🔴 Unreachable[white]\n\n%s\n%s", server, tview.Escape(snap.Err.Error()))
	}
	h := snap.Health
	return fmt.Sprintf("[green]🟢 Running[white]\n\n%s\nUptime: %s\nQueue: %d pending, %d claimed, %d finished",
		server, h.Uptime, h.Queue.Pending, h.Queue.Claimed, h.Queue.History)
}

func eventLine(ev queue.Event) string {
	color := "white"
	switch ev.Type {
	case queue.EventSubmitted:
		color = "cyan"
	case queue.EventPrinted:
		color = "green"
	case queue.EventFailed:
		color = "red"
	case queue.EventReleased:
		color = "yellow"
	}
	return "[" + color + "]" + tview.Escape(formatEvent(ev)) + "[white]"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newDashboardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show pending requests, stations and live queue events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return newDashboard(clientFor(cmd), interval).Run(ctx)
		},
	}
	cmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
	return cmd
}
