// Package main provides the operator CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tagbox/internal/api/connect"
	"github.com/osa030/tagbox/internal/api/ws"
	"github.com/osa030/tagbox/internal/app/broadcast"
)

var (
	app    = kingpin.New("tagctl", "tagbox operator client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Operator token (or set TAGBOX_OPERATOR_TOKEN env)").Envar("TAGBOX_OPERATOR_TOKEN").String()

	// present command
	presentCmd = app.Command("present", "Present a tag as if read by the reader")
	presentUID = presentCmd.Arg("uid", "Tag UID").Required().String()

	// remove command
	removeCmd = app.Command("remove", "Remove the current tag")

	// action command
	actionCmd  = app.Command("action", "Run a manual control action")
	actionName = actionCmd.Arg("name", "Action name (see 'actions')").Required().String()

	// actions command
	actionsCmd = app.Command("actions", "List manual control actions")

	// op command
	opCmd     = app.Command("op", "Run a playback command")
	opCommand = opCmd.Arg("command", "Command name (play, pause, seek, setVolume, ...)").Required().String()
	opArgs    = opCmd.Arg("args", "Arguments as key=value").Strings()

	// status command
	statusCmd = app.Command("status", "Show device status")

	// redetect command
	redetectCmd = app.Command("redetect", "Report a tag as newly presented on the next read")
	redetectUID = redetectCmd.Arg("uid", "Tag UID (default: tag on the reader)").String()

	// watch command
	watchCmd   = app.Command("watch", "Watch broadcast events over websocket")
	watchRooms = watchCmd.Arg("rooms", "Rooms to join").Default(broadcast.RoomPlaylists).Strings()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewDefaultControlClient(*server, *token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Execute command
	switch command {
	case presentCmd.FullCommand():
		printResult(client.PresentTag(ctx, *presentUID))
	case removeCmd.FullCommand():
		printResult(client.RemoveTag(ctx))
	case actionCmd.FullCommand():
		printResult(client.ManualAction(ctx, *actionName))
	case actionsCmd.FullCommand():
		listActions(ctx, client)
	case opCmd.FullCommand():
		operate(ctx, client, *opCommand, *opArgs)
	case statusCmd.FullCommand():
		status(ctx, client)
	case redetectCmd.FullCommand():
		redetect(ctx, client, *redetectUID)
	case watchCmd.FullCommand():
		watch(*server, *watchRooms)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printResult(resp *apiconnect.ResultResponse, err error) {
	exitOnError(err)
	if resp.Success {
		fmt.Println(resp.Message)
	} else {
		fmt.Printf("Failed: %s\n", resp.Message)
	}
}

func listActions(ctx context.Context, client *apiconnect.ControlClient) {
	actions, err := client.ListActions(ctx)
	exitOnError(err)
	for _, a := range actions {
		fmt.Println(a)
	}
}

// parseArgs turns key=value pairs into an argument map.
func parseArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid argument %q, expected key=value", p)
		}
		args[k] = v
	}
	return args, nil
}

func operate(ctx context.Context, client *apiconnect.ControlClient, command string, pairs []string) {
	args, err := parseArgs(pairs)
	exitOnError(err)

	resp, err := client.SubmitOperation(ctx, command, args)
	exitOnError(err)

	if resp.Success {
		fmt.Printf("Success: %s\n", resp.Message)
	} else {
		fmt.Printf("Rejected [%s]: %s\n", resp.Code, resp.Message)
	}
	p := resp.Playback
	fmt.Printf("State: %s  Playlist: %s  Track: %d/%d %s  Volume: %d\n",
		p.State, p.PlaylistID, p.TrackIndex+1, p.TrackCount, p.TrackName, p.Volume)
}

func status(ctx context.Context, client *apiconnect.ControlClient) {
	resp, err := client.GetStatus(ctx)
	exitOnError(err)

	s := resp.Status
	fmt.Println("\n=== DEVICE STATUS ===")
	fmt.Printf("Device: %s (%s)\n", s.Device.DeviceID, s.Device.Phase)
	if s.Device.StartedAt != nil {
		fmt.Printf("Started: %s\n", s.Device.StartedAt.Format(time.RFC3339))
	}
	if len(s.Device.Degraded) > 0 {
		fmt.Printf("Degraded: %s\n", strings.Join(s.Device.Degraded, ", "))
	}
	fmt.Printf("Reader Tag: %s  Resets: %d\n", valueOr(s.ReaderTag, "-"), s.ReaderResets)

	p := s.Playback
	fmt.Println("\nPlayback:")
	fmt.Printf("  State: %s\n", p.State)
	if p.PlaylistID != "" {
		fmt.Printf("  Playlist: %s (%s)\n", p.PlaylistName, p.PlaylistID)
		fmt.Printf("  Track: %d/%d %s\n", p.TrackIndex+1, p.TrackCount, p.TrackName)
		fmt.Printf("  Position: %s / %s\n",
			time.Duration(p.PositionMs)*time.Millisecond, time.Duration(p.DurationMs)*time.Millisecond)
	}
	fmt.Printf("  Volume: %d  Muted: %v  Auto Pause: %v\n", p.Volume, p.Muted, p.AutoPause)
	if p.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", p.ErrorMessage)
	}

	fmt.Printf("\nBroadcast: seq=%d subscriptions=%d pending=%d\n", s.ServerSeq, s.Subscriptions, s.PendingDeliveries)

	fmt.Printf("\nClients (%d):\n", len(s.Clients))
	for _, c := range s.Clients {
		fmt.Printf("  %s %s rooms=%v ops=%d\n", c.ID, c.RemoteAddr, c.Rooms, c.TotalOperations)
	}

	fmt.Printf("\nPlaylists (%d):\n", len(s.Playlists))
	for _, pl := range s.Playlists {
		fmt.Printf("  %-20s %s (%d tracks)\n", pl.ID, pl.Name, pl.TrackCount)
	}

	if len(s.Device.Warnings) > 0 {
		fmt.Println("\nRecent Warnings:")
		for _, w := range s.Device.Warnings {
			fmt.Printf("  [%s] %s: %s %s\n", w.At.Format(time.TimeOnly), w.Source, w.Message, w.Error)
		}
	}
	fmt.Println()
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func redetect(ctx context.Context, client *apiconnect.ControlClient, uid string) {
	got, err := client.ForceRedetect(ctx, uid)
	exitOnError(err)
	fmt.Printf("Tag %s will be redetected\n", got)
}

// wsURL converts the server address into the websocket endpoint.
func wsURL(server string) string {
	u := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func watch(server string, rooms []string) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	exitOnError(err)
	defer conn.Close()

	for _, room := range rooms {
		exitOnError(conn.WriteJSON(ws.Message{Type: ws.MsgJoin, Room: room}))
	}

	fmt.Println("Watching events. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nClosing...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		os.Exit(0)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("Connection closed: %v\n", err)
			return
		}
		printFrame(data)
	}
}

func printFrame(data []byte) {
	var env broadcast.Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.EventType != "" {
		seq := fmt.Sprintf("seq=%d", env.ServerSeq)
		if env.PlaylistSeq != nil {
			seq += fmt.Sprintf(" playlistSeq=%d", *env.PlaylistSeq)
		}
		fmt.Printf("[%s] %-20s %s %s\n", env.Timestamp.Format(time.TimeOnly), env.EventType, seq, env.Data)
		return
	}

	var r ws.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		fmt.Printf("? %s\n", data)
		return
	}
	switch r.Type {
	case ws.ReplyWelcome:
		fmt.Printf("Connected as %s\n", r.ClientID)
	case ws.ReplyJoined:
		fmt.Printf("Joined %s (snapshot seq=%d)\n", r.Room, r.ServerSeq)
	case ws.ReplyError:
		fmt.Printf("Error [%s]: %s\n", r.Code, r.Message)
	default:
		fmt.Printf("%s %s\n", r.Type, r.Room)
	}
}
