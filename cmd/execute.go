package cmd

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}
