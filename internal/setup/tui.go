// Package setup holds the terminal wizard for creating campaigns.
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/internal/ledger"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the campaign creation wizard and saves the resulting
// campaign to the ledger.
func RunTUI(ctx context.Context, store ledger.Store) error {
	var (
		name       string
		pairStr    string
		balanceStr string
		confirm    bool
	)

	pairStr = "BTC_USDT"
	balanceStr = "100"

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("CAMPAIGN WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up a new trading campaign.\n"))

	fmt.Println(stepStyle.Render("STEP 1: CAMPAIGN"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Campaign Name").
				Description("A label for logs and reports (e.g. btc-breakout)").
				Value(&name).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("name cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CAMPAIGN WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: ASSET"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. BTC_USDT)").
				Value(&pairStr).
				Validate(func(s string) error {
					_, err := entity.PairFromString(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CAMPAIGN WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: BALANCE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Initial Balance").
				Description("Quote currency amount the campaign may spend").
				Value(&balanceStr).
				Validate(validateBalance),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CAMPAIGN WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf("Name: %s\nPair: %s\nBalance: %s\n", name, pairStr, balanceStr)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Create Campaign?").
				Affirmative("Yes, create").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	pair, err := entity.PairFromString(pairStr)
	if err != nil {
		return err
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return err
	}

	campaign := &entity.Campaign{
		Name:           name,
		Pair:           pair,
		InitialBalance: balance,
		Balance:        balance,
		Status:         entity.CampaignStatusActive,
	}
	if err := store.CreateCampaign(ctx, campaign); err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Campaign %q created with id %d", name, campaign.ID)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validateBalance(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
