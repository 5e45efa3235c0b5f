package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shardsafe/kanon-engine/internal/dataset"
	"github.com/shardsafe/kanon-engine/internal/mpc"
	"github.com/shardsafe/kanon-engine/internal/participant"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

const (
	ringPortBase   = 4442
	motionPortBase = 5442
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kanon-participant <boxid> <number_of_boxes>",
		Short:        "Data-holding box of the distributed k-anonymity engine",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         runParticipant,
	}

	flags := cmd.Flags()
	flags.String("address", "127.0.0.1", "The box ip address.")
	flags.Int("ringport", 0, "The box port for ring communication (default 4442+boxid).")
	flags.Int("motionport", 0, "The box port for MPC backend communication (default 5442+boxid).")
	flags.String("dataset", "medical", "The data set to be used ([medical]/adult).")
	flags.String("datafile", "", "CSV file holding the full data set (default data/<dataset>.csv).")

	viper.SetEnvPrefix("KANON")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

func runParticipant(cmd *cobra.Command, args []string) error {
	boxID, err := strconv.Atoi(args[0])
	if err != nil || boxID < 1 {
		return fmt.Errorf("invalid boxid %q", args[0])
	}
	numberOfBoxes, err := strconv.Atoi(args[1])
	if err != nil || numberOfBoxes < boxID {
		return fmt.Errorf("invalid number_of_boxes %q", args[1])
	}

	host := viper.GetString("address")
	ringPort := viper.GetInt("ringport")
	if ringPort == 0 {
		ringPort = ringPortBase + boxID
	}
	motionPort := viper.GetInt("motionport")
	if motionPort == 0 {
		motionPort = motionPortBase + boxID
	}
	datasetName := viper.GetString("dataset")
	dataFile := viper.GetString("datafile")
	if dataFile == "" {
		dataFile = "data/" + datasetName + ".csv"
	}

	_, expectedCategories, ok := dataset.TreesFor(datasetName)
	if !ok {
		return fmt.Errorf("unknown dataset %q", datasetName)
	}

	fmt.Printf("starting box (%d, %s, %d, %d)\n", boxID, host, ringPort, motionPort)
	fmt.Println("reading data...")

	categories, allRows, err := dataset.ReadCSV(dataFile)
	if err != nil {
		return err
	}
	if len(categories) != len(expectedCategories) {
		return fmt.Errorf("dataset %s has %d columns, %s expects %d",
			dataFile, len(categories), datasetName, len(expectedCategories))
	}
	boxRows := dataset.SliceForParty(allRows, boxID, numberOfBoxes)

	fmt.Println("finished reading data.")
	fmt.Printf("\nWaiting for requests on port %d\n\n", ringPort)

	self := models.Party{ID: boxID, Host: host, RingPort: ringPort, MotionPort: motionPort}
	oracle := mpc.NewBackendClient(self.MotionAddr())

	return participant.Serve(cmd.Context(), boxID, self.RingAddr(), categories, boxRows, oracle)
}
