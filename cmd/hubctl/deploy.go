package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apiclient "github.com/splax/templatehub/pkg/api/client"
)

var (
	deployTemplate      string
	deployRepo          string
	deployConfigPath    string
	deployUserImage     string
	deployProjectImages []string
	deployTimeout       time.Duration
	listLimit           int
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a template to your GitHub Pages site",
	Long: `Forks the template into your account, fills it with the content from
--config (JSON or YAML) and publishes it to GitHub Pages. The command waits
for the deployment to finish.`,
	RunE: runDeploy,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available templates",
	RunE:  runTemplates,
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Inspect your deployments",
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent deployments",
	RunE:  runDeploymentsList,
}

var deploymentsShowCmd = &cobra.Command{
	Use:   "show [deployment-id]",
	Short: "Show a deployment and its log",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploymentsShow,
}

var deploymentsWatchCmd = &cobra.Command{
	Use:   "watch [deployment-id]",
	Short: "Follow a running deployment",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploymentsWatch,
}

func init() {
	deployCmd.Flags().StringVar(&deployTemplate, "template", "", "Template identifier")
	deployCmd.Flags().StringVar(&deployRepo, "repo", "", "Target repository name")
	deployCmd.Flags().StringVar(&deployConfigPath, "config", "", "Content file (JSON or YAML)")
	deployCmd.Flags().StringVar(&deployUserImage, "user-image", "", "Portrait image")
	deployCmd.Flags().StringSliceVar(&deployProjectImages, "project-image", nil, "Project image (repeatable, up to 10)")
	deployCmd.Flags().DurationVar(&deployTimeout, "timeout", 30*time.Minute, "Give up waiting after this long")
	_ = deployCmd.MarkFlagRequired("template")
	_ = deployCmd.MarkFlagRequired("repo")
	_ = deployCmd.MarkFlagRequired("config")

	deploymentsListCmd.Flags().IntVar(&listLimit, "limit", 10, "Maximum number of deployments")
	deploymentsCmd.AddCommand(deploymentsListCmd, deploymentsShowCmd, deploymentsWatchCmd)
	rootCmd.AddCommand(deployCmd, templatesCmd, deploymentsCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	configData, err := readContentFile(deployConfigPath)
	if err != nil {
		return err
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), deployTimeout)
	defer cancel()

	fmt.Printf("deploying %s to %s...\n", deployTemplate, deployRepo)
	res, err := client.Deploy(ctx, token, apiclient.DeployInput{
		TemplateID:    deployTemplate,
		RepoName:      deployRepo,
		ConfigData:    configData,
		UserImage:     deployUserImage,
		ProjectImages: deployProjectImages,
	})
	if err != nil {
		return err
	}
	fmt.Printf("deployed: %s\n", res.DeployedURL)
	if res.RepoURL != "" {
		fmt.Printf("repository: %s\n", res.RepoURL)
	}
	return nil
}

// readContentFile loads JSON or YAML content and re-encodes it as JSON.
func readContentFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	if json.Valid(data) {
		return data, nil
	}
	var content map[string]any
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse content file %s: %w", path, err)
	}
	if content == nil {
		return nil, errors.New("content file is empty")
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return encoded, nil
}

func runTemplates(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	templates, err := client.ListTemplates(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTACK\tSOURCE")
	for _, t := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.TechStack, t.RepoURL)
	}
	return tw.Flush()
}

func runDeploymentsList(cmd *cobra.Command, args []string) error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	deployments, err := client.ListDeployments(ctx, token, listLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEMPLATE\tREPO\tSTATUS\tUPDATED\tURL")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.TemplateID, d.RepoName, d.Status, d.UpdatedAt.Local().Format(time.RFC3339), d.DeployedURL)
	}
	return tw.Flush()
}

func runDeploymentsShow(cmd *cobra.Command, args []string) error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	d, err := client.GetDeployment(ctx, token, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s/%s  %s\n", d.ID, d.Username, d.RepoName, d.Status)
	for _, line := range d.Logs {
		fmt.Println("  " + line)
	}
	if d.DeployedURL != "" {
		fmt.Printf("deployed: %s\n", d.DeployedURL)
	}
	return nil
}

func runDeploymentsWatch(cmd *cobra.Command, args []string) error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	printed := 0
	var last apiclient.Deployment
	err = client.Watch(ctx, token, args[0], func(d apiclient.Deployment) {
		if d.Status != last.Status {
			fmt.Printf("[%s]\n", d.Status)
		}
		// Logs are append-only, so only the new tail is printed.
		for printed < len(d.Logs) {
			fmt.Println("  " + d.Logs[printed])
			printed++
		}
		last = d
	})
	if err != nil {
		return err
	}
	switch last.Status {
	case "SUCCESS":
		fmt.Printf("deployed: %s\n", last.DeployedURL)
	case "FAILED":
		return fmt.Errorf("deployment %s failed", strings.TrimSpace(last.ID))
	}
	return nil
}
