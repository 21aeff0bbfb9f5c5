package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/contextgate"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/intent"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/planner"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
)

// inspector classifies and plans utterances without running any tool.
type inspector struct {
	classifier *intent.Classifier
	validator  *contextgate.Validator
	planner    *planner.Planner
}

func (a *app) inspector() (*inspector, error) {
	catalog := intent.DefaultCatalog()
	if a.cfg.Catalog.Path != "" {
		var err error
		if catalog, err = intent.LoadCatalog(a.cfg.Catalog.Path); err != nil {
			return nil, err
		}
	}
	var model llm.ModelClient
	if a.cfg.Model.Enabled {
		model = llm.NewOllamaClient(a.cfg.Model.BaseURL, llm.WithModels(a.cfg.Model.ClassifyModel, a.cfg.Model.GenerateModel))
	}
	core := a.cfg.Core
	classifier := intent.NewClassifier(catalog, model, core, intent.WithLogger(a.logger))
	return &inspector{
		classifier: classifier,
		validator:  contextgate.NewValidator(core, catalog),
		planner:    planner.New(catalog, classifier, core, a.logger),
	}, nil
}

func newClassifyCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "classify <utterance>",
		Short: "Classify an utterance and show the context decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := a.inspector()
			if err != nil {
				return err
			}
			utt := envelope.NewUtterance(strings.Join(args, " "), user, "")
			res := in.classifier.Classify(cmd.Context(), utt, nil)
			out := runtime.ClassificationData(res)
			out["context"] = in.validator.Decide(res, utt)
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "user id")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "plan <utterance>",
		Short: "Compile the workflow an utterance would run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := a.inspector()
			if err != nil {
				return err
			}
			utt := envelope.NewUtterance(strings.Join(args, " "), user, "")
			goal := envelope.Goal{
				Utterance:      utt,
				Classification: in.classifier.Classify(cmd.Context(), utt, nil),
			}
			wf, err := in.planner.Plan(cmd.Context(), goal)
			if err != nil {
				return err
			}
			return printJSON(cmd, runtime.PlanData(wf))
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "user id")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
