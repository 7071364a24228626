package rtc

import (
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Feedback counts RTCP packets the remote sent about our tracks.
type Feedback struct {
	PLI             uint64
	FIR             uint64
	NACK            uint64
	ReceiverReports uint64
	// Lost is the cumulative loss from the latest receiver report blocks.
	Lost uint32
}

type feedback struct {
	pli, fir, nack, rr atomic.Uint64
	lost               atomic.Uint32
}

// drain reads RTCP from sender until its transport closes. Reading is also what lets interceptors
// such as NACK responders run.
func (f *feedback) drain(sender *webrtc.RTPSender, logger zerolog.Logger) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				f.pli.Add(1)
				logger.Debug().Uint32("ssrc", p.MediaSSRC).Msg("PLI")
			case *rtcp.FullIntraRequest:
				f.fir.Add(1)
			case *rtcp.TransportLayerNack:
				f.nack.Add(1)
			case *rtcp.ReceiverReport:
				f.rr.Add(1)
				for _, r := range p.Reports {
					f.lost.Store(r.TotalLost)
				}
			}
		}
	}
}

func (f *feedback) snapshot() Feedback {
	return Feedback{
		PLI:             f.pli.Load(),
		FIR:             f.fir.Load(),
		NACK:            f.nack.Load(),
		ReceiverReports: f.rr.Load(),
		Lost:            f.lost.Load(),
	}
}
