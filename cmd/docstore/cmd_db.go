package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/qbloq/docstore/core"
)

// dbCmd creates the db command
func dbCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	c.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check the database connection",
		Run:   cmdDBPing,
	})

	c.AddCommand(&cobra.Command{
		Use:   "indexes <collection> <field>...",
		Short: "Ensure unique indexes on a collection",
		Long: `Ensure a unique index exists for each listed field. Comma-separate
field names within one argument for a compound constraint, for example:

  docstore db indexes users email org,email`,
		Args: cobra.MinimumNArgs(2),
		Run:  cmdDBIndexes,
	})

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with sample users and posts",
		Run:   cmdDBSeed,
	}
	seedCmd.Flags().Int("users", 10, "number of users to create")
	seedCmd.Flags().Int("posts", 25, "number of posts to create")
	c.AddCommand(seedCmd)

	return c
}

func cmdDBPing(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	db := initDB(ctx)
	defer db.Close(ctx) //nolint:errcheck

	log.Infof("database responding: %s", conf.DB.DBName)
}

func cmdDBIndexes(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	db := initDB(ctx)
	defer db.Close(ctx) //nolint:errcheck

	coll := core.GetCollection[map[string]any](core.NewDB(db.Client, db.DB, log), args[0])
	if err := coll.EnsureUnique(ctx, args[1:]...); err != nil {
		log.Fatalf("%s", err)
	}
	log.Infof("unique indexes ensured on %s: %s", args[0], strings.Join(args[1:], ", "))
}

type seedUser struct {
	ID    string `bson:"id,omitempty"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Age   int    `bson:"age"`
}

type seedPost struct {
	ID        string `bson:"id,omitempty"`
	Title     string `bson:"title"`
	Body      string `bson:"body"`
	CreatedBy string `bson:"createdBy"`
}

func cmdDBSeed(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	db := initDB(ctx)
	defer db.Close(ctx) //nolint:errcheck

	nUsers, _ := cmd.Flags().GetInt("users")
	nPosts, _ := cmd.Flags().GetInt("posts")

	cdb := core.NewDB(db.Client, db.DB, log)
	users := core.GetCollection[seedUser](cdb, "users")
	posts := core.GetCollection[seedPost](cdb, "posts")

	userIDs := make([]string, 0, nUsers)
	for i := 0; i < nUsers; i++ {
		id, err := users.Insert(ctx, seedUser{
			Name:  gofakeit.Name(),
			Email: fmt.Sprintf("%d.%s", i, gofakeit.Email()),
			Age:   gofakeit.Number(18, 80),
		}, "email")
		if err != nil {
			log.Fatalf("seed users: %s", err)
		}
		userIDs = append(userIDs, id)
	}

	batch := make([]seedPost, 0, nPosts)
	for i := 0; i < nPosts; i++ {
		batch = append(batch, seedPost{
			Title:     gofakeit.Sentence(5),
			Body:      gofakeit.Paragraph(1, 3, 10, " "),
			CreatedBy: userIDs[gofakeit.Number(0, len(userIDs)-1)],
		})
	}
	ids, err := posts.InsertMany(ctx, batch)
	if err != nil {
		log.Fatalf("seed posts: %s", err)
	}

	log.Infof("seeded %d users and %d posts", len(userIDs), len(ids))
}
