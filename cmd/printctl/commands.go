package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/thereceipt/print-station/internal/api"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/pkg/fiscalnote"
)

func newSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <note.json>",
		Short: "Validate a fiscal note and queue it for printing",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	cmd.Flags().String("note-id", "", "Note id (defaults to the note number)")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	note, err := fiscalnote.ParseFile(args[0])
	if err != nil {
		return err
	}

	noteID, _ := cmd.Flags().GetString("note-id")
	if noteID == "" {
		noteID = note.Number
	}
	if noteID == "" {
		return errors.New("note has no number; pass --note-id")
	}

	payload, err := note.ToPayload()
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}

	var req queue.Request
	body := map[string]interface{}{"note_id": noteID, "payload": payload}
	if err := clientFor(cmd).do(cmd.Context(), "POST", "/print-requests", body, &req); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success(fmt.Sprintf("✅ Queued note %s as request %s", req.NoteID, req.ID), req)
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending print requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Requests []queue.Request `json:"requests"`
			}
			if err := clientFor(cmd).do(cmd.Context(), "GET", "/print-requests", nil, &resp); err != nil {
				return err
			}
			return printRequests(cmd, resp.Requests)
		},
	}
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished print requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			note, _ := cmd.Flags().GetString("note")
			var resp struct {
				Requests []queue.Request `json:"requests"`
			}
			path := "/history?limit=" + strconv.Itoa(limit)
			if note != "" {
				path = "/history?note_id=" + url.QueryEscape(note)
			}
			if err := clientFor(cmd).do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			return printRequests(cmd, resp.Requests)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of requests")
	cmd.Flags().String("note", "", "Show every attempt for one note id, oldest first")
	return cmd
}

func printRequests(cmd *cobra.Command, reqs []queue.Request) error {
	out := newOutputFormatter(cmd)
	if out.jsonMode {
		return out.JSON(map[string]interface{}{"requests": reqs})
	}
	if len(reqs) == 0 {
		fmt.Fprintln(out.w, "No print requests")
		return nil
	}

	tw := tabwriter.NewWriter(out.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNOTE\tSTATUS\tCREATED\tCLAIMED BY\tERROR")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.NoteID, r.Status, r.CreatedAt.Local().Format(time.DateTime), r.ClaimedBy, r.ErrorMessage)
	}
	return tw.Flush()
}

func newPrintedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "printed <request-id>",
		Short: "Mark a request as printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).do(cmd.Context(), "POST", "/print-requests/"+args[0]+"/printed", nil, nil); err != nil {
				return err
			}
			return newOutputFormatter(cmd).Success("✅ Marked "+args[0]+" as printed", map[string]interface{}{"success": true, "id": args[0]})
		},
	}
}

func newFailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <request-id>",
		Short: "Mark a request as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			body := map[string]string{"reason": reason}
			if err := clientFor(cmd).do(cmd.Context(), "POST", "/print-requests/"+args[0]+"/error", body, nil); err != nil {
				return err
			}
			return newOutputFormatter(cmd).Success("❌ Marked "+args[0]+" as failed", map[string]interface{}{"success": true, "id": args[0]})
		},
	}
	cmd.Flags().String("reason", "", "Failure reason shown in history")
	return cmd
}

func newClaimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <request-id>",
		Short: "Take an exclusive lease on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			station, _ := cmd.Flags().GetString("station")
			var lease queue.Lease
			body := map[string]string{"station": station}
			if err := clientFor(cmd).do(cmd.Context(), "POST", "/print-requests/"+args[0]+"/claim", body, &lease); err != nil {
				return err
			}
			msg := fmt.Sprintf("Claimed %s for %s until %s\nToken: %s",
				lease.RequestID, lease.Station, lease.ExpiresAt.Local().Format(time.TimeOnly), lease.Token)
			return newOutputFormatter(cmd).Success(msg, lease)
		},
	}
	cmd.Flags().String("station", "", "Station name")
	_ = cmd.MarkFlagRequired("station")
	return cmd
}

func newReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <request-id>",
		Short: "Give up a lease so another station can print the request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			station, _ := cmd.Flags().GetString("station")
			token, _ := cmd.Flags().GetString("token")
			body := map[string]string{"station": station, "token": token}
			if err := clientFor(cmd).do(cmd.Context(), "POST", "/print-requests/"+args[0]+"/release", body, nil); err != nil {
				return err
			}
			return newOutputFormatter(cmd).Success("Released "+args[0], map[string]interface{}{"success": true, "id": args[0]})
		},
	}
	cmd.Flags().String("station", "", "Station name")
	cmd.Flags().String("token", "", "Lease token returned by claim")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List printer profiles known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Default  string             `json:"default"`
				Profiles []registry.Profile `json:"profiles"`
			}
			if err := clientFor(cmd).do(cmd.Context(), "GET", "/profiles", nil, &resp); err != nil {
				return err
			}

			out := newOutputFormatter(cmd)
			if out.jsonMode {
				return out.JSON(resp)
			}

			tw := tabwriter.NewWriter(out.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPAPER\tINTERFACES\tDEFAULT")
			for _, p := range resp.Profiles {
				def := ""
				if p.ID == resp.Default {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dmm\t%v\t%s\n", p.ID, p.Name, p.Type, p.PaperWidthMM, p.Interfaces, def)
			}
			return tw.Flush()
		},
	}
}

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial devices on the server host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Ports []string `json:"ports"`
			}
			if err := clientFor(cmd).do(cmd.Context(), "GET", "/serial-ports", nil, &resp); err != nil {
				return err
			}

			out := newOutputFormatter(cmd)
			if out.jsonMode {
				return out.JSON(resp)
			}
			if len(resp.Ports) == 0 {
				fmt.Fprintln(out.w, "No serial ports found")
				return nil
			}
			for _, p := range resp.Ports {
				fmt.Fprintln(out.w, p)
			}
			return nil
		},
	}
}

func newSetIPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-ip <ip>",
		Short: "Save the network printer address on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				IP string `json:"ip"`
			}
			body := map[string]string{"ip": args[0]}
			if err := clientFor(cmd).do(cmd.Context(), "PUT", "/settings/network-printer-ip", body, &resp); err != nil {
				return err
			}
			return newOutputFormatter(cmd).Success("Network printer set to "+resp.IP, resp)
		},
	}
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream queue events until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	cmd.Flags().Int("count", 0, "Exit after this many events (0 streams forever)")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL, err := clientFor(cmd).wsURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := newOutputFormatter(cmd)
	for seen := 0; count == 0 || seen < count; {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection closed: %w", err)
		}

		var ev queue.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Type == "" {
			continue
		}
		seen++

		if out.jsonMode {
			if err := out.JSON(ev); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out.w, formatEvent(ev))
	}
	return nil
}

func formatEvent(ev queue.Event) string {
	line := fmt.Sprintf("%s %-9s %s note=%s", ev.At.Local().Format(time.TimeOnly), ev.Type, ev.Request.ID, ev.Request.NoteID)
	if ev.Request.ErrorMessage != "" {
		line += " error=" + strconv.Quote(ev.Request.ErrorMessage)
	}
	return line
}
