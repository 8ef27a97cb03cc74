package cli

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/SentiTrader/config"
)

var errNotInteractive = errors.New("confirmation required but stdin is not a terminal, pass --yes")

// PromptForConfirmation asks a yes/no question, defaulting to no.
func PromptForConfirmation(message string) (bool, error) {
	if !stdinIsTerminal() {
		return false, errNotInteractive
	}
	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}

// liveTradingMessage describes what a confirmed run will do.
func liveTradingMessage(cfg *config.Config, subreddit string) string {
	if subreddit == "" {
		subreddit = cfg.Subreddit
	}
	return fmt.Sprintf("Submit live market orders to %s based on r/%s sentiment?", cfg.BrokerProvider, subreddit)
}
