package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/database"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Record and inspect attendance",
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <identity-id> <session>",
	Short: "Mark attendance manually or from an image",
	Long: `Mark attendance for today's session. Without --image the mark is manual and
attributed to --actor. With --image the face is verified first.

Examples:
  campus-attendance attendance mark S1 morning --actor staff-7
  campus-attendance attendance mark S1 morning --actor staff-7 --status absent
  campus-attendance attendance mark S1 morning --image jana.jpg`,
	Args: cobra.ExactArgs(2),
	RunE: runAttendanceMark,
}

var attendanceCorrectCmd = &cobra.Command{
	Use:   "correct <record-id> <status>",
	Short: "Change the status of an attendance record",
	Args:  cobra.ExactArgs(2),
	RunE:  runAttendanceCorrect,
}

var attendanceDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete an attendance record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceDelete,
}

var attendanceStatsCmd = &cobra.Command{
	Use:   "stats <identity-id>",
	Short: "Show attendance totals for an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceStats,
}

var attendanceListCmd = &cobra.Command{
	Use:   "list [identity-id]",
	Short: "List the attendance records of an identity, newest first",
	Long: `List every attendance record of one identity. The identity is given by id or
looked up by display name, ignoring case, diacritics and dashes.

Examples:
  campus-attendance attendance list S1
  campus-attendance attendance list --name "Jana Novakova"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttendanceList,
}

var attendanceAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceAudit,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd, attendanceCorrectCmd, attendanceDeleteCmd,
		attendanceStatsCmd, attendanceListCmd, attendanceAuditCmd)

	attendanceMarkCmd.Flags().String("image", "", "Face image for a biometric mark")
	attendanceMarkCmd.Flags().String("status", "", "Status of a manual mark (present, late, absent)")
	attendanceMarkCmd.Flags().Bool("json", false, "Output as JSON")

	for _, c := range []*cobra.Command{attendanceMarkCmd, attendanceCorrectCmd, attendanceDeleteCmd} {
		c.Flags().String("actor", "", "Who makes the change")
	}
	_ = attendanceCorrectCmd.MarkFlagRequired("actor")
	_ = attendanceDeleteCmd.MarkFlagRequired("actor")

	attendanceStatsCmd.Flags().Bool("json", false, "Output as JSON")

	attendanceListCmd.Flags().String("name", "", "Look the identity up by display name")
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")

	attendanceAuditCmd.Flags().String("identity", "", "Only entries about this identity")
	attendanceAuditCmd.Flags().String("from", "", "First day to include (YYYY-MM-DD)")
	attendanceAuditCmd.Flags().String("to", "", "Last day to include (YYYY-MM-DD)")
	attendanceAuditCmd.Flags().Int("limit", constants.DefaultAuditLimit, "Maximum number of entries")
	attendanceAuditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	req := attendance.MarkRequest{
		IdentityID: args[0],
		Session:    args[1],
		Source:     attendance.SourceManual,
		ActorID:    mustGetString(cmd, "actor"),
		Status:     database.AttendanceStatus(mustGetString(cmd, "status")),
		Origin:     cliOrigin,
	}
	if path := mustGetString(cmd, "image"); path != "" {
		image, err := readImage(path)
		if err != nil {
			return err
		}
		req.Source = attendance.SourceBiometric
		req.Image = image
	} else if req.ActorID == "" {
		return fmt.Errorf("--actor is required for manual marks")
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.attendance.Mark(ctx, req)
	if err != nil {
		if me, ok := attendance.AsMarkError(err); ok {
			return fmt.Errorf("mark declined (%s): %s", me.Code, me.Message)
		}
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	fmt.Printf("Marked %s %s for %s %s (record %s)\n",
		res.Record.IdentityID, res.Record.Status, res.Record.Date.Format(time.DateOnly), res.Record.Session, res.Record.ID)
	if res.Decision != nil {
		fmt.Printf("Verified with confidence %.3f\n", res.Confidence)
	}
	return nil
}

func runAttendanceCorrect(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid record id: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.attendance.Correct(ctx, attendance.CorrectRequest{
		RecordID: id,
		Status:   database.AttendanceStatus(args[1]),
		ActorID:  mustGetString(cmd, "actor"),
		Origin:   cliOrigin,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Record %s is now %s\n", rec.ID, rec.Status)
	return nil
}

func runAttendanceDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid record id: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.attendance.Delete(ctx, attendance.DeleteRequest{
		RecordID: id,
		ActorID:  mustGetString(cmd, "actor"),
		Origin:   cliOrigin,
	}); err != nil {
		return err
	}
	fmt.Printf("Deleted record %s\n", id)
	return nil
}

func runAttendanceStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.attendance.Stats(ctx, args[0])
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}
	fmt.Printf("Identity:   %s\n", stats.IdentityID)
	fmt.Printf("Records:    %d\n", stats.Total)
	fmt.Printf("Present:    %d\n", stats.Present)
	fmt.Printf("Late:       %d\n", stats.Late)
	fmt.Printf("Absent:     %d\n", stats.Absent)
	fmt.Printf("Attendance: %.2f%%\n", stats.Percentage)
	return nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
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
	records, err := a.attendance.History(ctx, identityID)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Printf("No attendance records for %s.\n", identityID)
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSESSION\tSTATUS\tMARKED BY\tSOURCE\tRECORD")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Date.Format(time.DateOnly), rec.Session, rec.Status, rec.MarkedBy, recordSource(rec), rec.ID)
	}
	return tw.Flush()
}

func recordSource(rec database.AttendanceRecord) string {
	switch {
	case rec.IsBiometric:
		return string(attendance.SourceBiometric)
	case rec.IsManual:
		return string(attendance.SourceManual)
	}
	return string(attendance.SourceSelf)
}

func runAttendanceAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	loc := a.attendance.Location()
	filter := database.AuditFilter{
		IdentityID: mustGetString(cmd, "identity"),
		Limit:      min(mustGetInt(cmd, "limit"), constants.MaxAuditLimit),
	}
	if from := mustGetString(cmd, "from"); from != "" {
		if filter.From, err = time.ParseInLocation(time.DateOnly, from, loc); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if to := mustGetString(cmd, "to"); to != "" {
		day, err := time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		filter.To = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	entries, err := a.attendance.AuditLog(ctx, filter)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tIDENTITY\tORIGIN\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.In(loc).Format(time.DateTime), e.ActorID, e.Action, e.IdentityID, e.Origin, e.Details)
	}
	return tw.Flush()
}
