package resources

// SourceEnv prefixes cmd with sourcing envFile so the database tools are on PATH.
func SourceEnv(envFile, cmd string) string {
	if envFile == "" {
		return cmd
	}

	return "source " + envFile + " ; " + cmd
}
