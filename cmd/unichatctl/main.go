package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhkim312/unichat/internal/chat"
	"github.com/dhkim312/unichat/internal/session"
)

var (
	sessionFlag string
	jsonFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:           "unichatctl",
		Short:         "Control a running unichatd session daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")

	root.AddCommand(
		statusCmd(),
		roomsCmd(),
		openCmd(),
		messagesCmd(),
		sendCmd(),
		readCmd(),
		metricsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// daemonClient returns an HTTP client speaking over the session's Unix
// domain socket.
func daemonClient() (*http.Client, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	socketPath := session.SocketPath(name)
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}, nil
}

func call(method, path string, body, out any) error {
	client, err := daemonClient()
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var st struct {
				Session string `json:"session"`
				State   string `json:"state"`
			}
			if err := call(http.MethodGet, "/v1/status", nil, &st); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(st)
			}
			fmt.Printf("Session: %s\n", st.Session)
			fmt.Printf("State:   %s\n", st.State)
			return nil
		},
	}
}

func roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List known conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Rooms []struct {
					Handle       string `json:"handle"`
					ServerRoomID int64  `json:"serverRoomId"`
					PeerNickname string `json:"peerNickname"`
					UnreadCount  int    `json:"unreadCount"`
				} `json:"rooms"`
			}
			if err := call(http.MethodGet, "/v1/rooms", nil, &resp); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if len(resp.Rooms) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, r := range resp.Rooms {
				unread := ""
				if r.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d unread)", r.UnreadCount)
				}
				fmt.Printf("%-40s %s%s\n", r.Handle, r.PeerNickname, unread)
			}
			return nil
		},
	}
}

func openCmd() *cobra.Command {
	var postID, nickname, peerID, roomID string
	cmd := &cobra.Command{
		Use:   "open <source>",
		Short: "Open (and resolve) a conversation for a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp struct {
				Handle       string `json:"handle"`
				State        string `json:"state"`
				ServerRoomID int64  `json:"serverRoomId"`
			}
			body := map[string]string{
				"source":   args[0],
				"postId":   postID,
				"nickname": nickname,
				"peerId":   peerID,
				"roomId":   roomID,
			}
			if err := call(http.MethodPost, "/v1/rooms/open", body, &resp); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if resp.Handle == "" {
				fmt.Println("Nothing to open: missing conversation identity.")
				return nil
			}
			fmt.Printf("Handle: %s\n", resp.Handle)
			fmt.Printf("State:  %s\n", resp.State)
			if resp.ServerRoomID != 0 {
				fmt.Printf("Room:   %d\n", resp.ServerRoomID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&postID, "post", "", "post id")
	cmd.Flags().StringVar(&nickname, "nickname", "", "counterpart nickname")
	cmd.Flags().StringVar(&peerID, "peer", "", "counterpart user id")
	cmd.Flags().StringVar(&roomID, "room", "", "server room id, if known")
	return cmd
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <handle>",
		Short: "Show a conversation's message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp struct {
				Messages []chat.Message `json:"messages"`
			}
			if err := call(http.MethodGet, "/v1/rooms/"+args[0]+"/messages", nil, &resp); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			for _, m := range resp.Messages {
				who := "them"
				if m.Mine {
					who = "me"
				}
				switch m.Kind {
				case chat.KindImage:
					fmt.Printf("[%s] %s: <%d image(s)>\n", m.SentAt, who, m.Count)
				case chat.KindSystem:
					fmt.Printf("[%s] -- %s\n", m.SentAt, m.Text)
				default:
					fmt.Printf("[%s] %s: %s\n", m.SentAt, who, m.Text)
				}
			}
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var initial bool
	cmd := &cobra.Command{
		Use:   "send <handle> <text>",
		Short: "Queue a text message for delivery",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp struct {
				Queued bool `json:"queued"`
			}
			body := map[string]any{
				"text":    strings.Join(args[1:], " "),
				"initial": initial,
			}
			if err := call(http.MethodPost, "/v1/rooms/"+args[0]+"/messages", body, &resp); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if resp.Queued {
				fmt.Println("Queued.")
			} else {
				fmt.Println("Skipped: opening message was already sent.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&initial, "initial", false, "mark as the conversation's opening message")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <handle> [last-message-id]",
		Short: "Mark a conversation read up to a message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			lastID := ""
			if len(args) > 1 {
				lastID = args[1]
			}
			var resp struct {
				UnreadCount int `json:"unreadCount"`
			}
			body := map[string]string{"lastMessageId": lastID}
			if err := call(http.MethodPost, "/v1/rooms/"+args[0]+"/read", body, &resp); err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Unread: %d\n", resp.UnreadCount)
			return nil
		},
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show daemon counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var counters map[string]any
			if err := call(http.MethodGet, "/v1/metrics", nil, &counters); err != nil {
				return err
			}
			return outputJSON(counters)
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
