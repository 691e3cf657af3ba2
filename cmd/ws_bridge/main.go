// Command ws_bridge exposes a vesper ACP subprocess over a WebSocket.
// Each connection starts its own agent process; newline-delimited JSON-RPC
// messages flow WebSocket -> stdin and stdout -> WebSocket.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/exec"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type bridgeMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	agentArgs := flag.Args()
	if len(agentArgs) == 0 {
		log.Fatal().Msg("usage: ws_bridge [-addr :8080] <agent command> [args...]")
	}

	http.HandleFunc("/ws", handleWS(agentArgs))
	log.Info().Str("addr", *addr).Msg("WebSocket bridge listening on /ws")
	log.Fatal().Err(http.ListenAndServe(*addr, nil)).Msg("server stopped")
}

func handleWS(cmdArgs []string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Error().Err(err).Msg("could not open agent stdin")
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Error().Err(err).Msg("could not open agent stdout")
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Error().Err(err).Msg("could not open agent stderr")
			return
		}

		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Msg("could not start agent")
			return
		}
		defer cmd.Wait()
		defer cmd.Process.Kill()

		writeFrame := func(kind, line string) error {
			payload, err := json.Marshal(bridgeMessage{Type: kind, Data: line})
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.TextMessage, payload)
		}

		go func() {
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				if err := writeFrame("stdout", scanner.Text()); err != nil {
					log.Debug().Err(err).Msg("websocket write failed")
					return
				}
			}
		}()
		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				if err := writeFrame("stderr", scanner.Text()); err != nil {
					log.Debug().Err(err).Msg("websocket write failed")
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("websocket closed")
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Error().Err(err).Msg("agent stdin write failed")
				return
			}
		}
	}
}
