package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"devinbox/backend/internal/auth"
	"devinbox/backend/internal/config"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage/gormstore"
)

// 直接往数据库里写入一个账号，用于初始化接口不可用时的兜底
// （例如误删唯一管理员后把自己锁在了控制台外面）。
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-admin <email> <password> [name] [admin|developer]")
		fmt.Println("\nRequires DEVINBOX_DATABASE_TYPE and DEVINBOX_DATABASE_DSN to be set.")
		os.Exit(1)
	}

	email := strings.ToLower(strings.TrimSpace(os.Args[1]))
	password := os.Args[2]
	name := ""
	if len(os.Args) >= 4 {
		name = os.Args[3]
	}
	role := domain.RoleAdmin
	if len(os.Args) >= 5 && os.Args[4] == "developer" {
		role = domain.RoleDeveloper
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("This command needs a database: memory storage does not survive the process.")
		os.Exit(1)
	}

	if err := domain.ValidateEmail(email); err != nil {
		fmt.Printf("Invalid email: %v\n", err)
		os.Exit(1)
	}
	if err := domain.ValidatePassword(password); err != nil {
		fmt.Printf("Invalid password: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	store, err := gormstore.NewStore(&cfg.Database)
	if err != nil {
		fmt.Printf("Failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	now := time.Now().UTC()
	account := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.CreateAccount(account); err != nil {
		fmt.Printf("Failed to create account: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Account created successfully!")
	fmt.Printf("  ID:    %s\n", account.ID)
	fmt.Printf("  Email: %s\n", account.Email)
	fmt.Printf("  Role:  %s\n", account.Role)
}
