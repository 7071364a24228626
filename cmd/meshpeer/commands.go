package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pterm/pterm"
)

// runCommand executes one input line and reports whether the user asked to leave.
func runCommand(ctx context.Context, o *orch.Orchestrator, mgr *media.Manager, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := o.SendChat(ctx, line)
		if errors.Is(err, domain.ErrChannelNotReady) {
			return false, errors.New("no peer channel is open yet, message not sent")
		}
		return false, err
	}

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/audio":
		if mgr.Audio() == nil {
			return false, errors.New("no audio track")
		}
		pterm.Info.Println("audio " + onOff(mgr.ToggleAudio()))
	case "/video":
		if mgr.Video() == nil {
			return false, errors.New("no video track")
		}
		pterm.Info.Println("video " + onOff(mgr.ToggleVideo()))
	case "/share":
		if err := mgr.StartScreenShare(ctx); err != nil {
			return false, err
		}
		pterm.Info.Println("sharing screen")
	case "/unshare":
		if err := mgr.StopScreenShare(ctx); err != nil {
			return false, err
		}
		pterm.Info.Println("screen share stopped")
	case "/peers":
		return false, renderPeers(o.States())
	case "/history":
		for _, m := range o.Messages() {
			printChat(m, o.Self())
		}
	default:
		return false, fmt.Errorf("unknown command %q", line)
	}
	return false, nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func renderPeers(views []orch.PeerView) error {
	if len(views) == 0 {
		pterm.Info.Println("no peers")
		return nil
	}
	data := pterm.TableData{{"Member", "Role", "State", "Session", "Rebuilds", "Packets in"}}
	for _, pv := range views {
		var packets uint64
		for _, s := range pv.Media {
			packets += s.Packets
		}
		sid := pv.SessionID
		if len(sid) > 8 {
			sid = sid[:8]
		}
		data = append(data, []string{
			string(pv.Member), pv.Role, pv.State.String(), sid,
			fmt.Sprint(pv.Rebuilds), fmt.Sprint(packets),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printChat(m domain.ChatMessage, self domain.MemberID) {
	at := time.UnixMilli(m.Timestamp).Format("15:04:05")
	who := pterm.Cyan(string(m.SenderID))
	if m.SenderID == self {
		who = pterm.Green(string(m.SenderID))
	}
	pterm.Printfln("%s %s: %s", pterm.Gray(at), who, m.Content)
}

func printEvents(events <-chan orch.Event, self domain.MemberID) {
	for ev := range events {
		switch ev.Kind {
		case orch.EventPeerJoined:
			pterm.Info.Printfln("%s joined", ev.Member)
		case orch.EventState:
			pterm.Debug.Printfln("%s %s", ev.Member, ev.State)
		case orch.EventPeerLeft:
			if ev.Err != nil {
				pterm.Warning.Printfln("%s dropped: %v", ev.Member, ev.Err)
			} else {
				pterm.Info.Printfln("%s left", ev.Member)
			}
		case orch.EventChat:
			if ev.Message.SenderID != self {
				printChat(ev.Message, self)
			}
		}
	}
}
