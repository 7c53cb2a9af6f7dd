package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage registered faces",
}

var facesRegisterCmd = &cobra.Command{
	Use:   "register <identity-id> <image>",
	Short: "Register the face of an identity",
	Long: `Register the face of an identity from an image file. The face is rejected
when it already belongs to another registered identity.

Examples:
  campus-attendance faces register S1 jana.jpg --name "Jana Nováková" --ref 2024001`,
	Args: cobra.ExactArgs(2),
	RunE: runFacesRegister,
}

var facesRemoveCmd = &cobra.Command{
	Use:   "remove [identity-id]",
	Short: "Remove the registered face of an identity",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFacesRemove,
}

var facesFindCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find registered identities by display name",
	Long: `Find registered identities by display name. Case, diacritics and dashes are
ignored, so "jana-novakova" finds "Jana Nováková".`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesFind,
}

var facesCheckCmd = &cobra.Command{
	Use:   "check <image>",
	Short: "Compare an image against every registered face",
	Long: `Compare an image against every registered face and print the score of each
metric. Useful for tuning thresholds.`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesCheck,
}

var facesScanCmd = &cobra.Command{
	Use:   "scan-duplicates",
	Short: "Find registered faces that match each other",
	Long: `Compare every registered face with every other one under the current matching
options. Pairs that match usually mean the same person was registered twice.`,
	Args: cobra.NoArgs,
	RunE: runFacesScan,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesRegisterCmd, facesRemoveCmd, facesFindCmd, facesCheckCmd, facesScanCmd)

	facesRegisterCmd.Flags().String("name", "", "Display name")
	facesRegisterCmd.Flags().String("ref", "", "External reference, e.g. student number")
	facesRegisterCmd.Flags().Bool("json", false, "Output as JSON")

	facesRemoveCmd.Flags().String("name", "", "Look the identity up by display name")

	facesFindCmd.Flags().Bool("json", false, "Output as JSON")

	facesCheckCmd.Flags().String("exclude", "", "Identity to leave out of the comparison")
	facesCheckCmd.Flags().Int("limit", constants.DefaultIdentifyLimit, "Number of comparisons to print")
	facesCheckCmd.Flags().Bool("json", false, "Output as JSON")

	facesScanCmd.Flags().Int("concurrency", constants.DefaultScanConcurrency, "Number of parallel workers")
	facesScanCmd.Flags().Float64("min-confidence", 0, "Only report pairs with at least this confidence")
	facesScanCmd.Flags().Bool("json", false, "Output as JSON")
}

func readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if info.Size() > constants.MaxImageUploadSize {
		return nil, fmt.Errorf("image %s exceeds %d bytes", path, constants.MaxImageUploadSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

func runFacesRegister(cmd *cobra.Command, args []string) error {
	image, err := readImage(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registrar.Register(ctx, enroll.RegisterRequest{
		IdentityID:  args[0],
		DisplayName: mustGetString(cmd, "name"),
		ExternalRef: mustGetString(cmd, "ref"),
		Image:       image,
	})
	var dup *enroll.DuplicateError
	if errors.As(err, &dup) && dup.Result != nil && dup.Result.MatchedIdentity != nil {
		m := dup.Result.MatchedIdentity
		return fmt.Errorf("face already registered to %s (%s), confidence %.3f", m.IdentityID, m.DisplayName, dup.Result.Confidence)
	}
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	verb := "Registered"
	if res.Replaced {
		verb = "Replaced"
	}
	fmt.Printf("%s face of %s (%d dimensions, checked against %d faces)\n",
		verb, res.Identity.IdentityID, res.Identity.Dim, res.Compared)
	return nil
}

func runFacesRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	identityID, err := resolveIdentity(ctx, a.attendance, args, mustGetString(cmd, "name"))
	if err != nil {
		return err
	}
	if err := a.registrar.Remove(ctx, identityID); err != nil {
		return err
	}
	fmt.Printf("Removed face of %s\n", identityID)
	return nil
}

func runFacesFind(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := a.attendance.FindIdentities(ctx, args[0])
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		type found struct {
			IdentityID   string    `json:"identity_id"`
			DisplayName  string    `json:"display_name"`
			ExternalRef  string    `json:"external_ref,omitempty"`
			Model        string    `json:"model"`
			RegisteredAt time.Time `json:"registered_at"`
		}
		out := make([]found, len(matches))
		for i, m := range matches {
			out[i] = found{m.IdentityID, m.DisplayName, m.ExternalRef, m.Model, m.RegisteredAt}
		}
		return outputJSON(out)
	}
	if len(matches) == 0 {
		fmt.Printf("No registered identity named %q.\n", args[0])
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tNAME\tREF\tMODEL\tREGISTERED")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.IdentityID, m.DisplayName, m.ExternalRef, m.Model, m.RegisteredAt.Format(time.DateTime))
	}
	return tw.Flush()
}

func runFacesCheck(cmd *cobra.Command, args []string) error {
	image, err := readImage(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.registrar.ReportImage(ctx, image, mustGetString(cmd, "exclude"))
	if err != nil {
		return err
	}
	if limit := mustGetInt(cmd, "limit"); limit > 0 && len(report.Comparisons) > limit {
		report.Comparisons = report.Comparisons[:limit]
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(report)
	}

	if report.Result.IsDuplicate {
		m := report.Result.MatchedIdentity
		fmt.Printf("Match: %s (%s), confidence %.3f, %d metrics agree\n\n",
			m.IdentityID, m.DisplayName, report.Result.Confidence, report.Result.AgreeingMetrics)
	} else {
		fmt.Printf("No match among %d registered faces\n\n", report.Result.Compared)
	}
	if len(report.Comparisons) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tNAME\tEUCLIDEAN\tCOSINE\tMANHATTAN\tDOT\tAGREE\tMATCH")
	for _, c := range report.Comparisons {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t%v\n",
			c.Identity.IdentityID, c.Identity.DisplayName,
			c.Scores[facematch.MetricEuclidean], c.Scores[facematch.MetricCosine],
			c.Scores[facematch.MetricManhattan], c.Scores[facematch.MetricDotProduct],
			c.AgreeingCount, c.IsDuplicate)
	}
	return tw.Flush()
}

func runFacesScan(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	minConfidence := mustGetFloat64(cmd, "min-confidence")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.cache.LoadUncached(ctx, "")
	if err != nil {
		return err
	}
	identities := snap.Identities()
	if len(identities) < 2 {
		fmt.Fprintln(os.Stderr, "Fewer than two registered faces, nothing to compare.")
		if jsonOutput {
			return outputJSON([]facematch.DuplicatePair{})
		}
		return nil
	}

	bar := progressbar.NewOptions(len(identities),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Comparing faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	pairs, err := facematch.ScanDuplicates(ctx, identities, a.detector.Options(), concurrency, func() {
		bar.Add(1)
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	filtered := pairs[:0]
	for _, p := range pairs {
		if p.Confidence >= minConfidence {
			filtered = append(filtered, p)
		}
	}

	if jsonOutput {
		return outputJSON(filtered)
	}
	if len(filtered) == 0 {
		fmt.Printf("No duplicates among %d registered faces\n", len(identities))
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIRST\tSECOND\tCONFIDENCE\tAGREE")
	for _, p := range filtered {
		fmt.Fprintf(tw, "%s (%s)\t%s (%s)\t%.4f\t%d\n",
			p.First.IdentityID, p.First.DisplayName, p.Second.IdentityID, p.Second.DisplayName,
			p.Confidence, p.AgreeingCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d duplicate pairs among %d registered faces\n", len(filtered), len(identities))
	return nil
}
