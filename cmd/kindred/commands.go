package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/kindred/internal/api"
	"github.com/kalambet/kindred/internal/config"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

// --- profile files ---

// readProfiles decodes every profile in r. The input is a YAML stream (JSON
// is accepted as YAML); each document holds one profile or a list of them.
func readProfiles(r io.Reader) ([]profile.Profile, error) {
	dec := yaml.NewDecoder(r)
	var out []profile.Profile
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing profiles: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		switch doc.Content[0].Kind {
		case yaml.SequenceNode:
			var ps []profile.Profile
			if err := doc.Decode(&ps); err != nil {
				return nil, fmt.Errorf("parsing profile list: %w", err)
			}
			out = append(out, ps...)
		case yaml.MappingNode:
			var p profile.Profile
			if err := doc.Decode(&p); err != nil {
				return nil, fmt.Errorf("parsing profile: %w", err)
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("line %d: expected a profile or a list of profiles", doc.Content[0].Line)
		}
	}
	return out, nil
}

func readProfilesFile(path string) ([]profile.Profile, error) {
	if path == "-" {
		return readProfiles(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return readProfiles(f)
}

// profileFromFlags builds a profile from the submit command's answer flags.
func profileFromFlags(fs *pflag.FlagSet) profile.Profile {
	get := func(name string) string {
		v, _ := fs.GetString(name)
		return v
	}
	p := profile.Profile{
		ID:                     get("id"),
		Name:                   get("name"),
		Age:                    get("age"),
		Location:               get("location"),
		SocialEnergy:           profile.SocialEnergy(get("social-energy")),
		Hobbies:                get("hobbies"),
		ConversationPreference: profile.ConversationPreference(get("conversation")),
		CommunicationFrequency: get("frequency"),
		PersonalitySeason:      get("season"),
		Trait:                  get("trait"),
		RechargeStyle:          get("recharge"),
		CancellationReaction:   get("cancellation"),
	}
	if ll := get("love-languages"); ll != "" {
		for _, l := range strings.Split(ll, ",") {
			if l = strings.TrimSpace(l); l != "" {
				p.LoveLanguages = append(p.LoveLanguages, profile.LoveLanguage(l))
			}
		}
	}
	return p
}

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit questionnaire answers and print the closest matches",
	Long: `Submit questionnaire answers and print the closest matches.

Examples:
  kindred submit --name Ana --social-energy introvert --hobbies "climbing, board games" \
    --love-languages "Quality Time,Acts of Service"
  kindred submit --file ana.yaml --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		var p profile.Profile
		if file != "" {
			ps, err := readProfilesFile(file)
			if err != nil {
				return err
			}
			if len(ps) != 1 {
				return fmt.Errorf("%s holds %d profiles; use kindred import for more than one", file, len(ps))
			}
			p = ps[0]
		} else {
			p = profileFromFlags(cmd.Flags())
			if p.Name == "" {
				return fmt.Errorf("one of --file or --name is required")
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/profiles"
		if limit > 0 {
			path += fmt.Sprintf("?limit=%d", limit)
		}
		resp, err := client.post(cmd.Context(), path, p)
		if err != nil {
			return err
		}

		var result api.MatchResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result)
		}
		printSuccess("Recorded profile %s", result.ProfileID)
		printMatches(os.Stdout, result.Matches)
		return nil
	},
}

func init() {
	f := submitCmd.Flags()
	f.String("file", "", "YAML or JSON file holding one profile (- for stdin)")
	f.Int("limit", 0, "number of matches to return (default: server setting)")
	f.Bool("json", false, "print the raw JSON response")
	addAnswerFlags(f)
}

// addAnswerFlags registers one flag per questionnaire answer.
func addAnswerFlags(f *pflag.FlagSet) {
	f.String("id", "", "profile id (generated by the server when empty)")
	f.String("name", "", "name")
	f.String("age", "", "age")
	f.String("location", "", "location")
	f.String("social-energy", "", "introvert, ambivert or extrovert")
	f.String("hobbies", "", "hobbies and interests")
	f.String("conversation", "", "one_on_one or group")
	f.String("frequency", "", "preferred communication frequency")
	f.String("love-languages", "", "comma-separated friendship love languages")
	f.String("season", "", "personality season")
	f.String("trait", "", "defining trait")
	f.String("recharge", "", "how you recharge")
	f.String("cancellation", "", "reaction to cancelled plans")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Record and index many profiles without matching",
	Long: `Record and index many profiles without matching.

The file is YAML or JSON: a list of profiles, or a stream of YAML documents
with one profile each. Nothing is written unless every profile is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := readProfilesFile(args[0])
		if err != nil {
			return err
		}
		if len(ps) == 0 {
			printWarning("No profiles found in %s", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing %d profiles...", len(ps))
		resp, err := client.post(cmd.Context(), "/profiles/import", ps)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d profiles", result["imported"])
		return nil
	},
}

// --- matches ---

var matchesCmd = &cobra.Command{
	Use:   "matches <id>",
	Short: "Show current matches for an indexed profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/profiles/" + url.PathEscape(args[0]) + "/matches"
		if limit > 0 {
			path += fmt.Sprintf("?limit=%d", limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result api.MatchResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(result)
		}
		printMatches(os.Stdout, result.Matches)
		return nil
	},
}

func init() {
	matchesCmd.Flags().Int("limit", 0, "number of matches to return (default: server setting)")
	matchesCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect or delete recorded profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded profiles, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/profiles?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var profiles []storage.StoredProfile
		if err := decodeJSON(resp, &profiles); err != nil {
			return err
		}

		if len(profiles) == 0 {
			fmt.Println("No profiles found.")
			return nil
		}

		for _, p := range profiles {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, p.ID),
				p.CreatedAt.Format("2006-01-02 15:04"),
				truncate(p.Name, 40),
			)
		}
		return nil
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a profile's recorded answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profiles/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var p storage.StoredProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a profile from the index and the raw store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/profiles/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	profilesListCmd.Flags().Int("limit", 20, "maximum number of profiles to list")
	profilesListCmd.Flags().Int("offset", 0, "number of profiles to skip")
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every recorded profile in the background",
	Long: `Re-embed every recorded profile in the background.

Use --reset after switching to an embedding model with a different vector
size; it empties the index before the jobs are queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/reindex"
		if reset {
			path += "?reset=true"
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Queued int  `json:"queued"`
			Reset  bool `json:"reset"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Reset {
			printStep("Index cleared")
		}
		printSuccess("Queued %d profiles for re-embedding", result.Queued)
		return nil
	},
}

var reindexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show re-embedding progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/reindex")
		if err != nil {
			return err
		}

		var counts storage.JobCounts
		if err := decodeJSON(resp, &counts); err != nil {
			return err
		}
		printStatus("Pending", "%d", counts.Pending)
		printStatus("Running", "%d", counts.Running)
		printStatus("Completed", "%d", counts.Completed)
		printStatus("Failed", "%d", counts.Failed)
		return nil
	},
}

func init() {
	reindexCmd.Flags().Bool("reset", false, "empty the index before re-embedding")
	reindexCmd.AddCommand(reindexStatusCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys: " +
		strings.Join(config.ValidKeys(), ", ") +
		"\n\nSecrets (API keys, the server token, the Postgres DSN) are read from the\nenvironment or a .env file only.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
