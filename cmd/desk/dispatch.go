package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/listingdesk/internal/event"
)

func newDispatchCmd() *cobra.Command {
	var (
		configPath  string
		eventType   string
		contactID   string
		transaction string
		fromStage   string
		toStage     string
		field       string
		value       string
		data        map[string]string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Raise a domain event against the workflow engine",
		Long:  "Raises one event (stage_change, field_change, form_submitted, ...) and runs every matching active workflow.",
		Example: `  desk dispatch --type stage_change --contact 3f0c... --from-stage lead --to-stage qualified
  desk dispatch --type field_change --contact 3f0c... --field budget --value 900000
  desk dispatch --type no_activity --contact 3f0c... --data days=14`,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := event.ParseType(eventType)
			if err != nil {
				return err
			}
			var ev event.Event
			switch typ {
			case event.StageChange:
				ev = event.StageChangeEvent(contactID, fromStage, toStage)
			case event.FieldChange:
				ev = event.FieldChangeEvent(contactID, field, value)
			default:
				ev = event.Event{Type: typ, ContactID: contactID, Data: map[string]any{}}
			}
			ev.TransactionID = transaction
			for k, v := range data {
				ev.Data[k] = v
			}
			return runDispatch(cmd, configPath, ev)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().StringVar(&eventType, "type", "", "event type (required)")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().StringVar(&transaction, "transaction", "", "transaction id")
	cmd.Flags().StringVar(&fromStage, "from-stage", "", "previous stage (stage_change)")
	cmd.Flags().StringVar(&toStage, "to-stage", "", "new stage (stage_change)")
	cmd.Flags().StringVar(&field, "field", "", "changed field (field_change)")
	cmd.Flags().StringVar(&value, "value", "", "new field value (field_change)")
	cmd.Flags().StringToStringVar(&data, "data", nil, "event data as key=value (repeatable)")
	cmd.MarkFlagRequired("type")
	return cmd
}

func runDispatch(cmd *cobra.Command, configPath string, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	svc, err := servicesFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	runs, err := svc.engine.Dispatch(context.Background(), ev)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No workflows matched.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.WorkflowName, r.Status, r.Error)
	}
	return w.Flush()
}
