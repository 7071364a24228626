package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/device"
	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/adapters/wsclient"
	"github.com/dkeye/Mesh/internal/app/chat"
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const leaveTimeout = 5 * time.Second

var (
	flagJoinMember string
	flagJoinAudio  bool
	flagJoinVideo  bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a room and stay until /quit",
	Long: `Join a room, publish synthetic media and chat with the other members.

Commands while joined:
  <text>     send a chat message
  /audio     toggle the microphone
  /video     toggle the camera or screen
  /share     share the screen instead of the camera
  /unshare   go back to the camera
  /peers     show the connection to every member
  /history   print the room chat log
  /quit      leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), domain.RoomID(args[0]), os.Stdin)
	},
}

func init() {
	f := joinCmd.Flags()
	f.String("name", "", "display name")
	f.StringVar(&flagJoinMember, "member", "", "requested member id, assigned by the relay when empty")
	f.BoolVar(&flagJoinAudio, "audio", true, "publish a microphone track")
	f.BoolVar(&flagJoinVideo, "video", false, "publish a camera track")
	mustBind("peer.display_name", f.Lookup("name"))
}

func rtcConfig(p config.Peer) rtc.Config {
	return rtc.Config{
		ICEServers: p.ICEServers,
		TURNURL:    p.TURNURL,
		TURNUser:   p.TURNUser,
		TURNPass:   p.TURNPass,
		Loopback:   p.Loopback,
	}
}

func runJoin(ctx context.Context, room domain.RoomID, in io.Reader) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := chat.CodecByName(cfg.Peer.ChatCodec)
	if err != nil {
		return err
	}
	peers, err := rtc.Factory(rtcConfig(cfg.Peer))
	if err != nil {
		return err
	}

	dev := device.NewSynthetic()
	mgr := media.NewManager(dev)
	defer mgr.Stop()
	if flagJoinAudio || flagJoinVideo {
		if err := mgr.Acquire(ctx, media.Constraints{Audio: flagJoinAudio, Video: flagJoinVideo}); err != nil {
			return err
		}
	}

	dropped := make(chan error, 1)
	sig := wsclient.New(cfg.Peer.SignalURL, wsclient.WithDisconnect(func(_ domain.RoomID, err error) {
		select {
		case dropped <- err:
		default:
		}
	}))

	o, err := orch.New(orch.Config{
		Room:        room,
		Member:      domain.MemberID(flagJoinMember),
		DisplayName: cfg.Peer.DisplayName,
		Signal:      sig,
		Peers:       peers,
		Media:       mgr,
		ChatCodec:   codec,
		Session: session.Config{
			NegotiationTimeout: cfg.Peer.NegotiationTimeout,
			GracePeriod:        cfg.Peer.GracePeriod,
		},
		MaxRebuilds: cfg.Peer.MaxRebuilds,
	})
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Joining room " + string(room) + "...")
	self, err := o.Join(ctx)
	if err != nil {
		spinner.Fail("join failed")
		return err
	}
	spinner.Success("joined " + string(room) + " as " + string(self))

	go printEvents(o.Events(), self)
	lines := readLines(in)

	for {
		select {
		case <-ctx.Done():
			return leave(o)
		case err := <-dropped:
			pterm.Error.Printfln("relay connection lost: %v", err)
			return leave(o)
		case line, ok := <-lines:
			if !ok {
				return leave(o)
			}
			quit, err := runCommand(ctx, o, mgr, line)
			if err != nil {
				pterm.Warning.Println(err.Error())
			}
			if quit {
				return leave(o)
			}
		}
	}
}

func leave(o *orch.Orchestrator) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	err := o.Leave(ctx)
	if err != nil && !errors.Is(err, orch.ErrNotJoined) {
		return err
	}
	pterm.Info.Println("left " + string(o.Room()))
	return nil
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
