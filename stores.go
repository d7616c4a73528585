package main

import (
	"context"

	"space-chat/internal/config"
	"space-chat/internal/db"
	"space-chat/internal/grpc"
	"space-chat/internal/memstore"
	"space-chat/internal/repositories"
)

type stores struct {
	rooms     repositories.RoomRepository
	spaces    repositories.SpaceRepository
	roles     repositories.RoleRepository
	bans      repositories.BanRepository
	messages  repositories.MessageRepository
	reactions repositories.ReactionRepository
	pinger    grpc.Pinger
	close     func() error
}

func openStores(ctx context.Context, cfg config.DBConfig) (*stores, error) {
	if cfg.Driver == "memory" {
		st := memstore.New()
		return &stores{
			rooms:     st,
			spaces:    st,
			roles:     st,
			bans:      st,
			messages:  st,
			reactions: st,
			close:     func() error { return nil },
		}, nil
	}

	database, err := db.Connect(ctx, cfg.DSN, cfg.Migrate)
	if err != nil {
		return nil, err
	}
	return &stores{
		rooms:     repositories.NewRoomRepo(database),
		spaces:    repositories.NewSpaceRepo(database),
		roles:     repositories.NewRoleRepo(database),
		bans:      repositories.NewBanRepo(database),
		messages:  repositories.NewMessageRepo(database),
		reactions: repositories.NewReactionRepo(database),
		pinger:    database,
		close:     database.Close,
	}, nil
}
