package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shardsafe/kanon-engine/internal/api"
	"github.com/shardsafe/kanon-engine/internal/coordinator"
	"github.com/shardsafe/kanon-engine/internal/dataset"
	"github.com/shardsafe/kanon-engine/internal/db"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/internal/metrics"
	"github.com/shardsafe/kanon-engine/internal/mpc"
	"github.com/shardsafe/kanon-engine/internal/ring"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

const (
	defaultK             = 5
	defaultNumberOfBoxes = 3
	defaultHost          = "127.0.0.1"
	defaultRingPort      = 4442
	defaultMotionPort    = 5442
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kanon-coordinator",
		Short:         "Central unit of the distributed k-anonymity engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runCoordinator,
	}

	flags := cmd.Flags()
	flags.Int("number_of_boxes", defaultNumberOfBoxes, "Number of participating boxes.")
	flags.String("address", defaultHost, "The central ip address.")
	flags.Int("ringport", defaultRingPort, "The central port for ring communication.")
	flags.Int("motionport", defaultMotionPort, "The central port for MPC backend communication.")
	flags.Int("anonymity_parameter", defaultK, "The anonymity parameter k of k-anonymity.")
	flags.Bool("interactive_criteria", false, "If set, criteria can be set interactively.")
	flags.String("dataset", "medical", "The data set to be used ([medical]/adult).")
	flags.String("used_qids", "", "Comma-separated list, can be used to restrict the used QIDs.")
	flags.Int("apiport", 0, "Port for the status API (0 disables it).")

	viper.SetEnvPrefix("KANON")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	numberOfBoxes := viper.GetInt("number_of_boxes")
	host := viper.GetString("address")
	ringPort := viper.GetInt("ringport")
	motionPort := viper.GetInt("motionport")
	k := viper.GetInt("anonymity_parameter")
	datasetName := viper.GetString("dataset")
	apiPort := viper.GetInt("apiport")

	allTrees, categories, ok := dataset.TreesFor(datasetName)
	if !ok {
		return fmt.Errorf("unknown dataset %q", datasetName)
	}

	usedTrees, err := restrictQIDs(allTrees, viper.GetString("used_qids"))
	if err != nil {
		return err
	}
	numQIDs := len(usedTrees)

	fmt.Printf("Starting central server [Number of boxes: %d, dataset: %s, k: %d, num_qids: %d]\n",
		numberOfBoxes, datasetName, k, numQIDs)
	qidStrs := make([]string, 0, numQIDs)
	for _, idx := range usedTrees.SortedIndices() {
		qidStrs = append(qidStrs, strconv.Itoa(idx))
	}
	fmt.Printf("Used QIDs: %s\n", strings.Join(qidStrs, ","))

	var criteria []models.Criterion
	if viper.GetBool("interactive_criteria") {
		criteria, err = askForCriteria(os.Stdin)
		if err != nil {
			return err
		}
	}

	participants := make([]models.Party, 0, numberOfBoxes)
	for i := 1; i <= numberOfBoxes; i++ {
		participants = append(participants, models.Party{
			ID: i, Host: defaultHost, RingPort: defaultRingPort + i, MotionPort: defaultMotionPort + i,
		})
	}
	self := models.Party{ID: 0, Host: host, RingPort: ringPort, MotionPort: motionPort}

	// Optional run persistence and status API, both degrade gracefully.
	var store *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		store, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: failed to connect to PostgreSQL, continuing without run persistence: %v", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	var hub *api.Hub
	if apiPort > 0 {
		hub = api.NewHub()
		go hub.Run()
		router := api.SetupRouter(store, hub)
		go func() {
			if err := router.Run(fmt.Sprintf(":%d", apiPort)); err != nil {
				log.Printf("Warning: status API stopped: %v", err)
			}
		}()
	}

	progress := func(ev coordinator.Event) {
		if hub == nil {
			return
		}
		if payload, err := json.Marshal(ev); err == nil {
			hub.Broadcast(payload)
		}
	}

	coord, err := coordinator.New(coordinator.Config{
		K:            k,
		Trees:        usedTrees,
		Criteria:     criteria,
		Participants: participants,
		Self:         self,
		Oracle:       mpc.NewBackendClient(self.MotionAddr()),
		DummyWidth:   len(categories),
		Progress:     progress,
	})
	if err != nil {
		return err
	}

	rx, err := ring.Listen(self.RingAddr())
	if err != nil {
		return err
	}
	defer rx.Close()

	startedAt := time.Now()
	rows, err := coordinator.Execute(cmd.Context(), coord, rx)
	if err != nil {
		return err
	}
	finishedAt := time.Now()

	fmt.Printf("FINISHED - time elapsed [%s]\n", formatElapsed(finishedAt.Sub(startedAt)))
	printResults(rows)

	attrs := usedTrees.SortedIndices()
	kAnonymous := metrics.FulfillsKAnonymity(rows, attrs, k)
	sizes := metrics.ClassSizes(rows, attrs)
	log.Printf("Result is k-anonymous: %v; %d equivalence classes (mean size %.2f, median %.2f)",
		kAnonymous, len(sizes), metrics.MeanSize(sizes), metrics.MedianSize(sizes))

	if store != nil {
		run := models.RunSummary{
			ID:         coord.RequestID,
			Dataset:    datasetName,
			K:          k,
			NumParties: numberOfBoxes,
			NumQIDs:    numQIDs,
			Rounds:     coord.Round() - 1,
			RowCount:   len(rows),
			KAnonymous: kAnonymous,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if err := store.SaveRun(cmd.Context(), run, rows); err != nil {
			log.Printf("Warning: failed to persist run %s: %v", run.ID, err)
		}
	}

	return nil
}

// restrictQIDs keeps only the requested attribute indices, or all of them
// when the argument is empty.
func restrictQIDs(all hierarchy.AttributeTrees, usedQIDs string) (hierarchy.AttributeTrees, error) {
	if strings.TrimSpace(usedQIDs) == "" {
		return all, nil
	}

	used := make(hierarchy.AttributeTrees)
	for _, part := range strings.Split(usedQIDs, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid QID index %q", part)
		}
		tree, ok := all[idx]
		if !ok {
			return nil, fmt.Errorf("QID %d requested, but there only exist the following QIDs: %v", idx, all.SortedIndices())
		}
		used[idx] = tree
	}
	return used, nil
}

// askForCriteria reads criteria lines of the form "Age < 65" until an empty
// line.
func askForCriteria(in *os.File) ([]models.Criterion, error) {
	var criteria []models.Criterion
	scanner := bufio.NewScanner(in)

	fmt.Print("\nEnter criterion, e.g. Age < 65: ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 3 {
			fmt.Println("Error: criterion must be of format '<category> <comparison operator> <value>'")
			break
		}
		if parts[1] != "=" && parts[1] != "<" && parts[1] != ">" {
			fmt.Printf("\nError: I only know comparison operators =, < and >.\nYou provided: %s\n", parts[1])
			break
		}
		criteria = append(criteria, models.Criterion{Category: parts[0], Operator: parts[1], Value: parts[2]})
		fmt.Print("\n\nMore criteria? If yes, type criteria. Otherwise just Enter. ")
	}
	return criteria, scanner.Err()
}

// formatElapsed renders a duration as H:MM:SS.micros.
func formatElapsed(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	micros := d.Microseconds() % 1_000_000
	return fmt.Sprintf("%d:%02d:%02d.%06d", h, m, s, micros)
}

func printResults(rows []models.Row) {
	fmt.Println("\nResult: ")
	for _, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			fmt.Printf("  %v\n", row)
			continue
		}
		fmt.Printf("  %s\n", encoded)
	}
	fmt.Printf("(%d rows.)\n", len(rows))
}
