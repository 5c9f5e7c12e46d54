package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/scamguard/pkg/configutil"
	"github.com/harunnryd/scamguard/pkg/scamguard"
	twiliotransport "github.com/harunnryd/scamguard/pkg/transports/twilio"
)

// Twilio streams 20ms of 8kHz mu-law per media message.
const (
	chunkBytes    = 160
	chunkInterval = 20 * time.Millisecond
)

func main() {
	configPath := flag.String("config", "configs/config.example.yaml", "")
	audioPath := flag.String("audio", "", "raw 8kHz mono mu-law file")
	target := flag.String("url", "", "media websocket url, derived from config when empty")
	from := flag.String("from", "+15550100", "")
	realtime := flag.Bool("realtime", true, "pace chunks like a live call")
	flag.Parse()
	if *audioPath == "" {
		fmt.Println("usage: replay_call -audio=call.ulaw [-config=...] [-url=ws://host/ws/media]")
		os.Exit(1)
	}
	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		fmt.Println("audio error:", err)
		os.Exit(1)
	}
	wsURL := *target
	if wsURL == "" {
		wsURL, err = mediaURL(*configPath)
		if err != nil {
			fmt.Println("config error:", err)
			os.Exit(1)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	callSID := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	streamSID := "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	send := func(evt twiliotransport.TwilioEvent) {
		if err := conn.WriteJSON(evt); err != nil {
			fmt.Println("write error:", err)
			os.Exit(1)
		}
	}

	send(twiliotransport.TwilioEvent{
		Event: "start",
		Start: &twiliotransport.TwilioStart{CallSID: callSID, StreamID: streamSID, From: *from},
	})
	var chunks int
	for off := 0; off < len(audio); off += chunkBytes {
		end := min(off+chunkBytes, len(audio))
		send(twiliotransport.TwilioEvent{
			Event: "media",
			Media: &twiliotransport.TwilioMedia{Track: "inbound", Payload: base64.StdEncoding.EncodeToString(audio[off:end])},
		})
		chunks++
		if *realtime {
			time.Sleep(chunkInterval)
		}
	}
	send(twiliotransport.TwilioEvent{Event: "stop", Stop: &twiliotransport.TwilioStop{Reason: "completed"}})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	fmt.Println("call_sid:", callSID)
	fmt.Println("stream_sid:", streamSID)
	fmt.Println("chunks:", chunks)
}

func mediaURL(path string) (string, error) {
	cfg, err := scamguard.LoadConfig(path)
	if err != nil {
		return "", err
	}
	var settings twiliotransport.Config
	if err := configutil.Decode("transports.settings", cfg.Transports.Settings, configutil.Schema{AllowUnknown: true}, &settings); err != nil {
		return "", err
	}
	wsPath := settings.WebsocketPath
	if wsPath == "" {
		wsPath = "/ws/media"
	}
	host, port, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return "", fmt.Errorf("server.addr: %w", err)
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: wsPath}
	return u.String(), nil
}
