package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kidride-backend/internal/utils"
)

func main() {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate_token",
		Short: "Выпускает JWT для родителя, водителя или администратора",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Info("Файл .env не найден, используем переменные окружения")
			}

			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("не задан JWT_SECRET")
			}
			if !utils.ValidRole(role) {
				return fmt.Errorf("неизвестная роль %q", role)
			}
			if role != utils.RoleAdmin && userID == "" {
				return fmt.Errorf("для роли %s нужен --user", role)
			}

			token, err := utils.GenerateJWT(secret, userID, role, ttl)
			if err != nil {
				return fmt.Errorf("ошибка генерации токена: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "идентификатор пользователя (для admin можно не указывать)")
	cmd.Flags().StringVar(&role, "role", utils.RoleAdmin, "роль: parent, driver или admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 365*24*time.Hour, "срок действия токена")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
