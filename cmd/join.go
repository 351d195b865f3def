package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/emrgen/panelcraft/internal/assist"
	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/editor"
	"github.com/emrgen/panelcraft/internal/model"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/emrgen/panelcraft/internal/session"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func suggester(cfg *config.Config) assist.Suggester {
	if cfg.GeminiKey == "" {
		return assist.Nop{}
	}
	return assist.NewGemini(cfg.GeminiKey, cfg.GeminiModel)
}

// joinCmd runs a headless participant. It keeps its copy of the room in
// memory and prints every document and presence change it sees.
func joinCmd() *cobra.Command {
	var room string
	var name string
	var title string

	var required = []string{"room"}

	command := &cobra.Command{
		Use:     "join",
		Short:   "join a room and follow its changes",
		Example: "panelcraft join -r https://panelcraft.app/?room=<id> -n Ana",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			cfg := config.LoadConfig()
			if !cfg.Collaborative() {
				logrus.Error(editor.ErrCollaborationUnavailable)
				return
			}

			ctx := context.Background()
			rs, err := remote.Dial(ctx, cfg.RemoteURL)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer rs.Close()

			if name == "" {
				name = cfg.UserName
			}
			e, err := editor.New(ctx, store.NewProjects(store.NewMemoryKV()),
				editor.WithRemote(rs),
				editor.WithSuggester(suggester(cfg)),
				editor.WithSaveDelay(cfg.SaveDelay),
				editor.WithTypingQuiet(cfg.TypingQuiet),
				editor.WithUserName(name),
			)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer e.Close(context.Background())

			e.OnChange(printScript)

			roomID, err := e.JoinRoom(ctx, room)
			if err != nil {
				logrus.Error(err)
				return
			}
			color.Green("joined room %s as %s\n", roomID, e.UserName())

			if title != "" {
				go setTitleWhenLive(e, e.Snapshot().ID, title)
			}

			followPresence(e)
		},
	}

	command.Flags().StringVarP(&room, "room", "r", "", "invite link or room id (required)")
	command.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to PANELCRAFT_USER)")
	command.Flags().StringVarP(&title, "title", "t", "", "retitle the room script once joined")
	command.Flags().SortFlags = false

	return command
}

func printScript(s *model.Script) {
	panels := 0
	for _, p := range s.Pages {
		panels += len(p.Panels)
	}
	color.Cyan("script %q by %q: %d pages, %d panels, %d characters\n",
		s.Title, s.Author, len(s.Pages), panels, len(s.Characters))
}

// setTitleWhenLive waits for the room content to replace the placeholder
// script before editing, so the edit lands on the room's script. A room that
// stays empty gets the title on the placeholder.
func setTitleWhenLive(e *editor.Editor, placeholderID, title string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == session.Live && e.Snapshot().ID != placeholderID {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.SetTitle(title)
}

// followPresence prints the participant list whenever it changes, until the
// process is interrupted.
func followPresence(e *editor.Editor) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-sigs:
			fmt.Println()
			return
		case <-ticker.C:
			names := make([]string, 0)
			for _, p := range e.Participants() {
				label := p.Name
				if p.ID == e.Self().ID {
					label += " (you)"
				}
				if p.IsTyping {
					label += " ..."
				}
				names = append(names, label)
			}
			line := strings.Join(names, ", ")
			if line != last {
				color.Yellow("%s [%s]: %s\n", e.RoomID(), e.State(), line)
				last = line
			}
		}
	}
}
