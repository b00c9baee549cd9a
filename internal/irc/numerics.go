package irc

// Commands the daemon consumes or emits.
const (
	CmdNick     = "NICK"
	CmdUser     = "USER"
	CmdPass     = "PASS"
	CmdJoin     = "JOIN"
	CmdPart     = "PART"
	CmdQuit     = "QUIT"
	CmdPrivmsg  = "PRIVMSG"
	CmdNotice   = "NOTICE"
	CmdMode     = "MODE"
	CmdTopic    = "TOPIC"
	CmdInvite   = "INVITE"
	CmdKick     = "KICK"
	CmdNames    = "NAMES"
	CmdWho      = "WHO"
	CmdWhois    = "WHOIS"
	CmdUserhost = "USERHOST"
	CmdPing     = "PING"
	CmdPong     = "PONG"
	CmdMotd     = "MOTD"
	CmdAway     = "AWAY"
)

// Numeric replies, per RFC 1459 naming.
const (
	RPL_WELCOME       = "001"
	RPL_YOURHOST      = "002"
	RPL_CREATED       = "003"
	RPL_MYINFO        = "004"
	RPL_USERHOST      = "302"
	RPL_AWAY          = "301"
	RPL_UNAWAY        = "305"
	RPL_NOWAWAY       = "306"
	RPL_WHOISUSER     = "311"
	RPL_ENDOFWHO      = "315"
	RPL_ENDOFWHOIS    = "318"
	RPL_CHANNELMODEIS = "324"
	RPL_NOTOPIC       = "331"
	RPL_TOPIC         = "332"
	RPL_INVITING      = "341"
	RPL_WHOREPLY      = "352"
	RPL_NAMREPLY      = "353"
	RPL_ENDOFNAMES    = "366"
	RPL_BANLIST       = "367"
	RPL_ENDOFBANLIST  = "368"
	RPL_MOTDSTART     = "375"
	RPL_MOTD          = "372"
	RPL_ENDOFMOTD     = "376"

	ERR_NOSUCHNICK       = "401"
	ERR_NOSUCHCHANNEL    = "403"
	ERR_CANNOTSENDTOCHAN = "404"
	ERR_UNKNOWNCOMMAND   = "421"
	ERR_NOTREGISTERED    = "451"
	ERR_NOMOTD           = "422"
	ERR_UNAVAILRESOURCE  = "437"
	ERR_NOTONCHANNEL     = "442"
	ERR_NEEDMOREPARAMS   = "461"
	ERR_ALREADYREGISTRED = "462"
	ERR_PASSWDMISMATCH   = "464"
	ERR_UNKNOWNMODE      = "472"
	ERR_NEEDREGGEDNICK   = "477"
	ERR_NOPRIVILEGES     = "481"
)
