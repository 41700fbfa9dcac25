package lobby

import (
	"fmt"

	"github.com/margaritaradeva/OvercookedAI/pkg/config"
	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/agents"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"
)

const (
	GAME_OVERCOOKED = "overcooked"
	GAME_TUTORIAL   = "tutorial"
	GAME_PREDEFINED = "predefined"

	DEFAULT_GAME_TIME  = 30
	DEFAULT_NUM_PLAYER = 2
)

func clampGameTime(settings config.ServerSettings, seconds int) int {
	if seconds <= 0 {
		seconds = DEFAULT_GAME_TIME
	}
	if settings.MaxGameTime > 0 && seconds > settings.MaxGameTime {
		seconds = settings.MaxGameTime
	}
	return seconds
}

func knownLayout(settings config.ServerSettings, layout string) bool {
	for _, known := range settings.Layouts {
		if known == layout {
			return true
		}
	}
	return false
}

// BuildRequest turns wire-level game parameters into a session request.
// Tutorial games always create their own session with a scripted partner;
// more than one layout makes a predefined sequence.
func BuildRequest(
	settings config.ServerSettings,
	gameName string,
	params protocol.GameParams,
	createIfNotFound bool,
) (sessions.Request, error) {
	if gameName == "" {
		gameName = GAME_OVERCOOKED
	}

	request := sessions.Request{
		GameName:         gameName,
		PlayerZero:       params.PlayerZero,
		PlayerOne:        params.PlayerOne,
		DataCollection:   params.DataCollection,
		CreateIfNotFound: createIfNotFound,
	}

	if gameName == GAME_TUTORIAL {
		request.Mode = sessions.ModeTutorial
		request.CreateIfNotFound = true
		// Tutorial runs are lessons, not experiments.
		request.DataCollection = false
		if request.PlayerOne == "" || request.PlayerOne == "human" {
			request.PlayerOne = agents.PolicyScriptedCook
		}

		for i, layout := range settings.Tutorial.Layouts {
			rule := sessions.Rule{Kind: sessions.RuleAnyScore}
			if i == len(settings.Tutorial.Layouts)-1 {
				rule = sessions.Rule{
					Kind:  sessions.RuleExactScore,
					Score: settings.Tutorial.PhaseTwoScore,
				}
			}
			request.Phases = append(request.Phases, sessions.Phase{
				Params: sim.LayoutParams{
					Layout:  layout,
					Players: DEFAULT_NUM_PLAYER,
				},
				Rule: rule,
			})
		}

		return request, nil
	}

	layouts := params.Layouts
	predefined := gameName == GAME_PREDEFINED

	if predefined {
		// The predefined experiment plays the server's configured
		// sequence; the simulation itself is the plain game.
		request.GameName = GAME_OVERCOOKED
		if len(layouts) == 0 {
			layouts = settings.Predefined.Layouts
		}
	}

	if len(layouts) == 0 {
		layouts = settings.Layouts[:1]
	}

	for _, layout := range layouts {
		if !knownLayout(settings, layout) {
			return sessions.Request{}, fmt.Errorf("unknown layout %q", layout)
		}
	}

	if len(layouts) > 1 {
		predefined = true
	}

	seconds := params.GameTime
	if seconds <= 0 && predefined {
		seconds = settings.Predefined.GameTime
	}
	gameTime := clampGameTime(settings, seconds)

	for _, layout := range layouts {
		request.Phases = append(request.Phases, sessions.Phase{
			Params: sim.LayoutParams{
				Layout:  layout,
				Players: DEFAULT_NUM_PLAYER,
			},
			Rule: sessions.Rule{
				Kind:    sessions.RuleTimeLimit,
				Seconds: gameTime,
			},
		})
	}

	if predefined {
		request.Mode = sessions.ModePredefined
		// Experiment sequences never pull in strangers mid-run.
		request.CreateIfNotFound = true
	}

	return request, nil
}
