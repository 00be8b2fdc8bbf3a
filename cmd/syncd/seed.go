package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/buehnenplan/syncd/internal/auth"
	"github.com/buehnenplan/syncd/internal/store"
	"github.com/buehnenplan/syncd/internal/syncer"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed development users and sample data",
	Long: `Populate the database with two demo users, an active session each,
and a handful of inventory items and tickets.

Sample data is pushed through the regular applier, so the event log and the
current-state tables stay consistent. Prints the session cookies and sync
tokens to use against the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.TokenSecret == "" {
			return fmt.Errorf("auth.token_secret is not configured")
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.InitSchema(ctx); err != nil {
			return err
		}

		users := []store.User{
			{ID: "u-anna", Name: "Anna Fuchs", Permissions: []string{
				auth.PermScan, auth.PermInventoryRead, auth.PermInventoryManage,
			}},
			{ID: "u-ben", Name: "Ben Richter", Permissions: []string{auth.PermScan}},
		}

		tokens, err := auth.NewTokens([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}

		for _, user := range users {
			if err := db.UpsertUser(ctx, user); err != nil {
				return err
			}
			session := uuid.NewString()
			if err := db.CreateSession(ctx, session, user.ID, time.Now().Add(30*24*time.Hour)); err != nil {
				return err
			}
			token, err := tokens.Mint(user.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n  session: %s\n  token:   %s\n", user.ID, session, token)
		}

		applier := syncer.NewApplier(db, store.NewStateProjector(logger), logger)
		now := time.Now().UTC().Format(time.RFC3339)

		pushes := []syncer.PushRequest{
			{
				Scope:            string(syncer.ScopeInventory),
				ClientID:         "seed",
				ClientMutationID: "seed-inventory",
				Events: []syncer.IncomingEvent{
					inventoryEvent("item.created", "prop-sword", "Bühnenschwert", "Requisitenlager A", 2, now),
					inventoryEvent("item.created", "prop-crown", "Königskrone", "Requisitenlager A", 1, now),
					inventoryEvent("item.created", "costume-cape", "Samtumhang rot", "Kostümfundus", 4, now),
				},
			},
			{
				Scope:            string(syncer.ScopeTickets),
				ClientID:         "seed",
				ClientMutationID: "seed-tickets",
				Events: []syncer.IncomingEvent{
					ticketEvent("ticket.issued", "tk-1001", "PREM-1001", "M. Weber", now),
					ticketEvent("ticket.issued", "tk-1002", "PREM-1002", "S. Klein", now),
				},
			},
		}

		for _, push := range pushes {
			result, err := applier.ApplyIncomingEvents(ctx, push)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %s: %s, serverSeq=%d\n", push.Scope, result.Status, result.ServerSeq)
		}
		return nil
	},
}

func inventoryEvent(typ, itemID, name, location string, quantity int, occurredAt string) syncer.IncomingEvent {
	payload, _ := json.Marshal(map[string]any{
		"itemId": itemID, "name": name, "location": location, "quantity": quantity,
	})
	return syncer.IncomingEvent{Type: typ, Payload: payload, OccurredAt: occurredAt}
}

func ticketEvent(typ, ticketID, code, holder string, occurredAt string) syncer.IncomingEvent {
	payload, _ := json.Marshal(map[string]any{
		"ticketId": ticketID, "code": code, "holder": holder,
	})
	return syncer.IncomingEvent{Type: typ, Payload: payload, OccurredAt: occurredAt}
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
