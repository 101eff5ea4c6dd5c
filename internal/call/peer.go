package call

import (
	"log/slog"

	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Tandem/internal/logging"
)

// APIOptions configures the WebRTC API shared by a client's calls.
type APIOptions struct {
	// Net replaces the host network, e.g. with a vnet.Net in tests.
	Net    transport.Net
	Logger *slog.Logger
}

// NewAPI builds a WebRTC API with the default codecs and slog-backed pion
// logging.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: &logging.PionFactory{Logger: opts.Logger},
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func newPeerConnection(api *webrtc.API, cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	if api == nil {
		var err error
		if api, err = NewAPI(APIOptions{}); err != nil {
			return nil, err
		}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

func createChatChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(ChatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, NewError("create data channel", err)
	}
	return dc, nil
}
