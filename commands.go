package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bayleafwalker/felix-core/internal/config"
	"github.com/bayleafwalker/felix-core/internal/manifest"
	"github.com/bayleafwalker/felix-core/internal/nativelib"
	"github.com/bayleafwalker/felix-core/internal/resolver"
)

// clauseHeaders are re-serialized by manifest --clauses.
var clauseHeaders = []string{
	manifest.BundleSymbolicName,
	manifest.FragmentHost,
	manifest.RequireBundle,
	manifest.ImportPackage,
	manifest.DynamicImportPackage,
	manifest.ExportPackage,
}

type manifestReport struct {
	SymbolicName     string              `yaml:"symbolicName"`
	Version          string              `yaml:"version"`
	ManifestVersion  string              `yaml:"manifestVersion"`
	ActivationPolicy string              `yaml:"activationPolicy"`
	Extension        bool                `yaml:"extension,omitempty"`
	Capabilities     []string            `yaml:"capabilities,omitempty"`
	Requirements     []string            `yaml:"requirements,omitempty"`
	NativeCode       int                 `yaml:"nativeCodeClauses,omitempty"`
	Clauses          map[string][]string `yaml:"clauses,omitempty"`
}

func (a *app) manifestCmd() *cobra.Command {
	var clauses bool
	cmd := &cobra.Command{
		Use:   "manifest <MANIFEST.MF>",
		Short: "Parse a manifest and print its capabilities and requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.readManifest(args[0])
			if err != nil {
				return err
			}
			report := manifestReport{
				SymbolicName:     m.BundleSymbolicName,
				Version:          m.BundleVersion.String(),
				ManifestVersion:  m.ManifestVersion,
				ActivationPolicy: m.ActivationPolicy.String(),
				Extension:        m.Extension,
				NativeCode:       len(m.NativeClauses),
			}
			for _, c := range m.Capabilities {
				report.Capabilities = append(report.Capabilities, c.String())
			}
			for _, r := range m.Requirements {
				report.Requirements = append(report.Requirements, r.String())
			}
			if clauses {
				if report.Clauses, err = a.clauses(args[0]); err != nil {
					return err
				}
			}
			return writeYAML(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&clauses, "clauses", false, "also print the re-serialized clauses of the standard headers")
	return cmd
}

func (a *app) clauses(path string) (map[string][]string, error) {
	headers, err := readHeaders(path)
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, name := range clauseHeaders {
		raw, ok := headers.Get(name)
		if !ok {
			continue
		}
		parsed, err := manifest.ParseHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, c := range parsed {
			out[name] = append(out[name], c.String())
		}
	}
	return out, nil
}

type nativeReport struct {
	Platform  nativePlatform `yaml:"platform"`
	Outcome   string         `yaml:"outcome"`
	Libraries []string       `yaml:"libraries,omitempty"`
}

type nativePlatform struct {
	OSName    string `yaml:"osName"`
	OSVersion string `yaml:"osVersion,omitempty"`
	Processor string `yaml:"processor"`
	Language  string `yaml:"language,omitempty"`
}

func (a *app) nativeCmd() *cobra.Command {
	var override config.PlatformConfig
	cmd := &cobra.Command{
		Use:   "native <MANIFEST.MF>",
		Short: "Select the Bundle-NativeCode clause for the configured platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.readManifest(args[0])
			if err != nil {
				return err
			}
			cfg := *a.cfg
			if override.OSName != "" {
				cfg.Platform.OSName = override.OSName
			}
			if override.OSVersion != "" {
				cfg.Platform.OSVersion = override.OSVersion
			}
			if override.Processor != "" {
				cfg.Platform.Processor = override.Processor
			}
			if override.Language != "" {
				cfg.Platform.Language = override.Language
			}

			props := cfg.FrameworkProperties()
			platform := nativelib.PlatformFromProperties(props)
			selector := nativelib.NewSelector(nativelib.NewAliases(props), a.log.WithName("native"))
			sel, err := m.SelectNative(selector, platform)
			if err != nil {
				return err
			}

			report := nativeReport{
				Platform: nativePlatform{
					OSName:    platform.OSName,
					OSVersion: platform.OSVersion,
					Processor: platform.Processor,
					Language:  platform.Language,
				},
				Outcome: sel.Outcome.String(),
			}
			for _, lib := range sel.Libraries() {
				report.Libraries = append(report.Libraries, lib.Path)
			}
			if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return sel.Err()
		},
	}
	cmd.Flags().StringVar(&override.OSName, "os", "", "operating system name")
	cmd.Flags().StringVar(&override.OSVersion, "os-version", "", "operating system version")
	cmd.Flags().StringVar(&override.Processor, "processor", "", "processor name")
	cmd.Flags().StringVar(&override.Language, "language", "", "language")
	return cmd
}

type resolveReport struct {
	Wires              []string `yaml:"wires,omitempty"`
	Order              []string `yaml:"order"`
	Roots              []string `yaml:"roots,omitempty"`
	UnresolvedRequired []string `yaml:"unresolvedRequired,omitempty"`
	UnresolvedOptional []string `yaml:"unresolvedOptional,omitempty"`
	Cyclic             []string `yaml:"cyclic,omitempty"`
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <MANIFEST.MF>...",
		Short: "Resolve the requirements of a set of bundles against each other",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in resolver.Input
			for _, path := range args {
				m, err := a.readManifest(path)
				if err != nil {
					return err
				}
				in.Resources = append(in.Resources, resolver.FromManifest(m))
			}

			plan, err := resolver.NewDefault(a.log.WithName("resolver")).Resolve(cmd.Context(), in)
			if err != nil {
				return err
			}
			report := resolveReport{
				Order:  plan.Order,
				Roots:  plan.Roots,
				Cyclic: plan.Diagnostics.Cyclic,
			}
			for _, w := range plan.Wires {
				report.Wires = append(report.Wires, fmt.Sprintf("%s -> %s: %s",
					resolver.RevisionName(w.Requirer()), resolver.RevisionName(w.Provider()), w.Requirement.Name()))
			}
			for _, u := range plan.Diagnostics.UnresolvedRequired {
				report.UnresolvedRequired = append(report.UnresolvedRequired, u.Requirement)
			}
			for _, u := range plan.Diagnostics.UnresolvedOptional {
				report.UnresolvedOptional = append(report.UnresolvedOptional, u.Requirement)
			}
			sort.Strings(report.UnresolvedOptional)
			if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return plan.Err()
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeYAML(cmd.OutOrStdout(), a.cfg)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DefaultConfig().Save(args[0]); err != nil {
				return err
			}
			a.log.Info("configuration written", "path", args[0])
			return nil
		},
	})
	return cmd
}
